package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense float32 array with an explicit shape. Images are stored
// channel-first ([C, H, W]) once normalized.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Len returns the element count implied by Shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Validate checks that Data matches Shape.
func (t Tensor) Validate() error {
	for i, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("dimension %d is negative: %d", i, d)
		}
	}
	if n := t.Len(); n != len(t.Data) {
		return fmt.Errorf("tensor data length %d != %d expected for shape %v", len(t.Data), n, t.Shape)
	}
	return nil
}

// Normalize rescales img to [0,1] float32 and moves the channel axis to the
// front, producing a [C, H, W] tensor.
func Normalize(img *Image) Tensor {
	plane := img.H * img.W
	data := make([]float32, plane*img.C)
	for i := 0; i < plane; i++ {
		for c := 0; c < img.C; c++ {
			data[c*plane+i] = float32(img.Pix[i*img.C+c]) / 255
		}
	}
	return Tensor{
		Shape: []int64{int64(img.C), int64(img.H), int64(img.W)},
		Data:  data,
	}
}

// NormalizeMask normalizes a mask and re-binarizes it: every nonzero sample
// becomes 1.0.
func NormalizeMask(mask *Image) Tensor {
	t := Normalize(mask)
	for i, v := range t.Data {
		if v > 0 {
			t.Data[i] = 1
		}
	}
	return t
}

// FromCHW converts a [C, H, W] tensor of values in [0,1] back to an HWC
// uint8 image: values are scaled by 255, clipped to [0,255] and truncated.
// A leading batch dimension of 1 is accepted and dropped.
func FromCHW(t Tensor) (*Image, error) {
	shape := t.Shape
	if len(shape) == 4 {
		if shape[0] != 1 {
			return nil, fmt.Errorf("batch size %d not supported", shape[0])
		}
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected CHW tensor, got shape %v", t.Shape)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	c, h, w := int(shape[0]), int(shape[1]), int(shape[2])
	plane := h * w
	out := NewImage(h, w, c)
	for ch := 0; ch < c; ch++ {
		src := t.Data[ch*plane : (ch+1)*plane]
		for i, v := range src {
			out.Pix[i*c+ch] = toByte(v)
		}
	}
	return out, nil
}

func toByte(v float32) uint8 {
	s := float64(v) * 255
	switch {
	case math.IsNaN(s), s <= 0:
		return 0
	case s >= 255:
		return 255
	}
	return uint8(s)
}
