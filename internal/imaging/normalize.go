package imaging

// hashEdge is the canonical square edge every raster is resampled to before
// hashing, so the same acquisition fingerprints identically regardless of the
// export resolution.
const hashEdge = 256

// Normalize rescales the raster to full dynamic range and resamples it to the
// canonical hashing geometry. The input raster is left untouched.
func Normalize(r *Raster) *Raster {
	return Resize(rescaleMinMax(r), hashEdge, hashEdge)
}

// rescaleMinMax stretches pixel intensities to cover [0, 255]. A constant
// image has no contrast to stretch and maps to all zeros.
func rescaleMinMax(r *Raster) *Raster {
	if len(r.Pix) == 0 {
		return r.Clone()
	}
	lo, hi := r.Pix[0], r.Pix[0]
	for _, p := range r.Pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	out := &Raster{Width: r.Width, Height: r.Height, Pix: make([]uint8, len(r.Pix))}
	if lo == hi {
		return out
	}
	span := float64(hi - lo)
	for i, p := range r.Pix {
		out.Pix[i] = uint8(float64(p-lo)/span*255 + 0.5)
	}
	return out
}

// Resize resamples the raster to width x height using bilinear interpolation
// with half-pixel centre alignment. The result is always an independent copy.
func Resize(r *Raster, width, height int) *Raster {
	if r.Width == width && r.Height == height {
		return r.Clone()
	}
	out := &Raster{Width: width, Height: height, Pix: make([]uint8, width*height)}
	if r.Width == 0 || r.Height == 0 {
		return out
	}
	scaleX := float64(r.Width) / float64(width)
	scaleY := float64(r.Height) / float64(height)
	for y := 0; y < height; y++ {
		srcY := (float64(y)+0.5)*scaleY - 0.5
		y0, fy := splitCoord(srcY, r.Height)
		y1 := clampCoord(y0+1, r.Height)
		for x := 0; x < width; x++ {
			srcX := (float64(x)+0.5)*scaleX - 0.5
			x0, fx := splitCoord(srcX, r.Width)
			x1 := clampCoord(x0+1, r.Width)

			top := lerp(float64(r.At(x0, y0)), float64(r.At(x1, y0)), fx)
			bottom := lerp(float64(r.At(x0, y1)), float64(r.At(x1, y1)), fx)
			out.Pix[y*width+x] = uint8(lerp(top, bottom, fy) + 0.5)
		}
	}
	return out
}

// splitCoord separates a source coordinate into an integer base and a
// fractional weight, clamping at the raster border.
func splitCoord(v float64, limit int) (int, float64) {
	if v <= 0 {
		return 0, 0
	}
	base := int(v)
	if base >= limit-1 {
		return limit - 1, 0
	}
	return base, v - float64(base)
}

func clampCoord(v, limit int) int {
	if v >= limit {
		return limit - 1
	}
	return v
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
