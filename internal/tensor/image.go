// Package tensor holds the pixel and float tensor types used around the
// inpainting model, together with the padding, normalization, cropping and
// compositing steps applied before and after a forward pass.
//
// Images are dense row-major HWC arrays of uint8 samples. Every operation in
// this package returns a new value; inputs are never modified.
package tensor

import (
	"fmt"
)

// Image is a dense HWC array of 8-bit samples. C is 1 for masks and
// grayscale images, 3 for RGB.
type Image struct {
	H, W, C int
	Pix     []uint8
}

// NewImage allocates a zeroed h×w×c image.
func NewImage(h, w, c int) *Image {
	return &Image{H: h, W: w, C: c, Pix: make([]uint8, h*w*c)}
}

// NewImageFrom wraps pix without copying after validating its length.
func NewImageFrom(h, w, c int, pix []uint8) (*Image, error) {
	if h < 0 || w < 0 || c <= 0 {
		return nil, fmt.Errorf("invalid image shape %dx%dx%d", h, w, c)
	}
	if len(pix) != h*w*c {
		return nil, fmt.Errorf("pixel buffer length %d does not match shape %dx%dx%d", len(pix), h, w, c)
	}
	return &Image{H: h, W: w, C: c, Pix: pix}, nil
}

// At returns the sample at row y, column x, channel c.
func (m *Image) At(y, x, c int) uint8 {
	return m.Pix[(y*m.W+x)*m.C+c]
}

// Set writes the sample at row y, column x, channel c.
func (m *Image) Set(y, x, c int, v uint8) {
	m.Pix[(y*m.W+x)*m.C+c] = v
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &Image{H: m.H, W: m.W, C: m.C, Pix: pix}
}

// Equal reports whether both images have the same shape and samples.
func (m *Image) Equal(o *Image) bool {
	if m.H != o.H || m.W != o.W || m.C != o.C {
		return false
	}
	for i := range m.Pix {
		if m.Pix[i] != o.Pix[i] {
			return false
		}
	}
	return true
}

// String describes the shape, e.g. "100x80x3".
func (m *Image) String() string {
	return fmt.Sprintf("%dx%dx%d", m.H, m.W, m.C)
}
