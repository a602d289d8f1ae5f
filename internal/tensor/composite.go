package tensor

import "fmt"

// Mask thresholds. Incoming masks are binarized with MaskInpaintThreshold
// (samples above it are inpainted), after which a mask only holds 0 or 255
// and MaskKeepThreshold selects the samples restored from the source image.
// Samples 127 and 128 both end up on the keep side.
const (
	MaskInpaintThreshold = 128
	MaskKeepThreshold    = 127
)

// BinarizeMask maps samples above MaskInpaintThreshold to 255 and everything
// else to 0.
func BinarizeMask(mask *Image) *Image {
	out := NewImage(mask.H, mask.W, mask.C)
	for i, v := range mask.Pix {
		if v > MaskInpaintThreshold {
			out.Pix[i] = 255
		}
	}
	return out
}

// Crop returns the top-left h×w region of img.
func Crop(img *Image, h, w int) (*Image, error) {
	if h > img.H || w > img.W || h < 0 || w < 0 {
		return nil, fmt.Errorf("crop %dx%d outside image %s", h, w, img)
	}
	out := NewImage(h, w, img.C)
	row := w * img.C
	for y := 0; y < h; y++ {
		copy(out.Pix[y*row:(y+1)*row], img.Pix[y*img.W*img.C:y*img.W*img.C+row])
	}
	return out, nil
}

// Composite restores original pixels into result wherever mask is below
// MaskKeepThreshold, on every channel. result, original and mask must share
// the same height and width; mask must be single-channel.
func Composite(result, original, mask *Image) (*Image, error) {
	if result.H != original.H || result.W != original.W || result.C != original.C {
		return nil, fmt.Errorf("result %s and original %s differ in shape", result, original)
	}
	if mask.H != result.H || mask.W != result.W || mask.C != 1 {
		return nil, fmt.Errorf("mask %s does not match result %s", mask, result)
	}

	out := result.Clone()
	c := result.C
	for i, m := range mask.Pix {
		if m < MaskKeepThreshold {
			copy(out.Pix[i*c:(i+1)*c], original.Pix[i*c:(i+1)*c])
		}
	}
	return out, nil
}
