package tensor

// DefaultPadModulo is the stride the LaMa generator downsamples by.
const DefaultPadModulo = 8

// PadOptions tunes PadToModulo beyond plain stride alignment.
type PadOptions struct {
	// Square pads both sides to the larger of the two aligned dimensions.
	Square bool
	// MinSize raises both aligned dimensions to at least this value. Zero disables it.
	MinSize int
}

// CeilToMultiple returns x if it is already a multiple of m, otherwise the
// next multiple of m above x.
func CeilToMultiple(x, m int) int {
	if x%m == 0 {
		return x
	}
	return (x/m + 1) * m
}

// PaddedSize returns the output dimensions PadToModulo produces for h×w.
func PaddedSize(h, w, mod int, opts PadOptions) (int, int) {
	outH, outW := CeilToMultiple(h, mod), CeilToMultiple(w, mod)
	if opts.MinSize > 0 {
		outH, outW = max(opts.MinSize, outH), max(opts.MinSize, outW)
	}
	if opts.Square {
		side := max(outH, outW)
		outH, outW = side, side
	}
	return outH, outW
}

// PadToModulo pads img on the bottom and right so that both spatial
// dimensions are multiples of mod. Padding mirrors the edge content
// symmetrically, repeating the border sample (abc|cba), so the stride-aligned
// canvas carries no artificial zero borders into the model.
func PadToModulo(img *Image, mod int, opts PadOptions) *Image {
	if mod <= 0 {
		mod = 1
	}
	outH, outW := PaddedSize(img.H, img.W, mod, opts)
	out := NewImage(outH, outW, img.C)
	if img.H == 0 || img.W == 0 {
		return out
	}

	cols := make([]int, outW)
	for x := range cols {
		cols[x] = symmetricIndex(x, img.W)
	}
	for y := 0; y < outH; y++ {
		sy := symmetricIndex(y, img.H)
		src := img.Pix[sy*img.W*img.C : (sy+1)*img.W*img.C]
		dst := out.Pix[y*outW*img.C : (y+1)*outW*img.C]
		copy(dst, src)
		for x := img.W; x < outW; x++ {
			sx := cols[x]
			copy(dst[x*img.C:(x+1)*img.C], src[sx*img.C:(sx+1)*img.C])
		}
	}
	return out
}

// symmetricIndex maps position i onto [0,n) by reflecting about the array
// edges with the edge sample repeated. Offsets wider than n keep reflecting
// with period 2n.
func symmetricIndex(i, n int) int {
	if i < n {
		return i
	}
	j := i % (2 * n)
	if j < n {
		return j
	}
	return 2*n - 1 - j
}
