package inpaint

import (
	"fmt"

	"github.com/nfnt/resize"

	"github.com/ngupuk/kupu/internal/tensor"
)

func resizeImage(img *tensor.Image, h, w int) (*tensor.Image, error) {
	src, err := tensor.ToStdImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}
	resized := resize.Resize(uint(w), uint(h), src, resize.Lanczos3)
	return tensor.FromStdImage(resized, img.C)
}

// resizeMask uses nearest-neighbour sampling and re-binarizes, so the mask
// stays {0,255}.
func resizeMask(mask *tensor.Image, h, w int) (*tensor.Image, error) {
	src, err := tensor.ToStdImage(mask)
	if err != nil {
		return nil, fmt.Errorf("failed to resize mask: %w", err)
	}
	resized, err := tensor.FromStdImage(resize.Resize(uint(w), uint(h), src, resize.NearestNeighbor), 1)
	if err != nil {
		return nil, err
	}
	return tensor.BinarizeMask(resized), nil
}
