package tensor

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// FromStdImage converts a decoded image to an Image with the requested
// channel count. For c == 3 the alpha channel is dropped without
// premultiplication. For c == 1 color input is reduced to ITU-R 601-2 luma.
func FromStdImage(src image.Image, c int) (*Image, error) {
	switch c {
	case 1:
		return grayFromStd(src), nil
	case 3:
		return rgbFromStd(src), nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", c)
	}
}

func rgbFromStd(src image.Image) *Image {
	nrgba := imaging.Clone(src)
	b := nrgba.Bounds()
	out := NewImage(b.Dy(), b.Dx(), 3)
	for y := 0; y < out.H; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+out.W*4]
		for x := 0; x < out.W; x++ {
			i := (y*out.W + x) * 3
			out.Pix[i] = row[x*4]
			out.Pix[i+1] = row[x*4+1]
			out.Pix[i+2] = row[x*4+2]
		}
	}
	return out
}

func grayFromStd(src image.Image) *Image {
	if g, ok := src.(*image.Gray); ok {
		b := g.Bounds()
		out := NewImage(b.Dy(), b.Dx(), 1)
		for y := 0; y < out.H; y++ {
			off := (y+b.Min.Y-g.Rect.Min.Y)*g.Stride + (b.Min.X - g.Rect.Min.X)
			copy(out.Pix[y*out.W:(y+1)*out.W], g.Pix[off:off+out.W])
		}
		return out
	}

	nrgba := imaging.Clone(src)
	b := nrgba.Bounds()
	out := NewImage(b.Dy(), b.Dx(), 1)
	for y := 0; y < out.H; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+out.W*4]
		for x := 0; x < out.W; x++ {
			r, g, bl := uint32(row[x*4]), uint32(row[x*4+1]), uint32(row[x*4+2])
			out.Pix[y*out.W+x] = uint8((r*19595 + g*38470 + bl*7471 + 0x8000) >> 16)
		}
	}
	return out
}

// ToStdImage returns an *image.Gray for single-channel images and an opaque
// *image.NRGBA for RGB images.
func ToStdImage(m *Image) (image.Image, error) {
	rect := image.Rect(0, 0, m.W, m.H)
	switch m.C {
	case 1:
		g := image.NewGray(rect)
		copy(g.Pix, m.Pix)
		return g, nil
	case 3:
		n := image.NewNRGBA(rect)
		for i := 0; i < m.H*m.W; i++ {
			n.Pix[i*4] = m.Pix[i*3]
			n.Pix[i*4+1] = m.Pix[i*3+1]
			n.Pix[i*4+2] = m.Pix[i*3+2]
			n.Pix[i*4+3] = 0xff
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", m.C)
	}
}
