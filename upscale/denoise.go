package upscale

import (
	"image"
	"math"
)

// bilateral applies edge-preserving smoothing. Weights combine a
// precomputed spatial Gaussian with a range weight over the luminance
// difference; guiding all channels by one luma weight keeps hue stable and
// leaves gray-replicated planes identical. Alpha passes through untouched.
func bilateral(src *image.NRGBA, radius int, sigmaSpace, sigmaRange float64) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewNRGBA(src.Rect)

	luma := acquirePlane(w * h)
	defer releasePlane(luma)
	lumaPlane(src, luma)

	size := 2*radius + 1
	spatial := make([]float32, size*size)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			spatial[(dy+radius)*size+(dx+radius)] = float32(math.Exp(-d2 / (2 * sigmaSpace * sigmaSpace)))
		}
	}
	var rangeLUT [256]float32
	for i := range rangeLUT {
		rangeLUT[i] = float32(math.Exp(-float64(i*i) / (2 * sigmaRange * sigmaRange)))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := luma[y*w+x]
			var wsum, rs, gs, bs float32
			for dy := -radius; dy <= radius; dy++ {
				yy := clampInt(y+dy, 0, h-1)
				for dx := -radius; dx <= radius; dx++ {
					xx := clampInt(x+dx, 0, w-1)
					d := center - luma[yy*w+xx]
					if d < 0 {
						d = -d
					}
					di := int(d + 0.5)
					if di > 255 {
						di = 255
					}
					wgt := spatial[(dy+radius)*size+(dx+radius)] * rangeLUT[di]
					p := src.Pix[yy*src.Stride+xx*4:]
					wsum += wgt
					rs += wgt * float32(p[0])
					gs += wgt * float32(p[1])
					bs += wgt * float32(p[2])
				}
			}
			o := out.Pix[y*out.Stride+x*4:]
			inv := 1 / wsum
			o[0] = clampU8(rs * inv)
			o[1] = clampU8(gs * inv)
			o[2] = clampU8(bs * inv)
			o[3] = src.Pix[y*src.Stride+x*4+3]
		}
	}
	return out
}

// expLUT tabulates exp(-t) for t in [0, 8); larger arguments round to zero
// weight. 128 steps per unit keeps the quantization below visibility.
var expLUT = func() [1024]float32 {
	var t [1024]float32
	for i := range t {
		t[i] = float32(math.Exp(-float64(i) / 128.0))
	}
	return t
}()

func expNeg(t float32) float32 {
	if t >= 8 {
		return 0
	}
	return expLUT[int(t*128)]
}

// nlmDenoise applies a simplified non-local-means filter. For every offset
// in the search window the squared luminance difference plane is box-summed
// over the patch, and the offset pixel is accumulated with weight
// exp(-ssd / (strength^2 * patchArea)). The zero offset always contributes
// weight one, so the accumulator never degenerates. Alpha passes through.
func nlmDenoise(src *image.NRGBA, patch, search int, strength float64) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewNRGBA(src.Rect)

	luma := acquirePlane(w * h)
	diff := acquirePlane(w * h)
	ssd := acquirePlane(w * h)
	accW := acquirePlane(w * h)
	accR := acquirePlane(w * h)
	accG := acquirePlane(w * h)
	accB := acquirePlane(w * h)
	defer func() {
		for _, p := range [][]float32{luma, diff, ssd, accW, accR, accG, accB} {
			releasePlane(p)
		}
	}()

	lumaPlane(src, luma)
	for i := range accW {
		accW[i], accR[i], accG[i], accB[i] = 0, 0, 0, 0
	}

	patchArea := float64((2*patch + 1) * (2*patch + 1))
	invH2 := float32(1 / (strength * strength * patchArea))

	for dy := -search; dy <= search; dy++ {
		for dx := -search; dx <= search; dx++ {
			for y := 0; y < h; y++ {
				yy := clampInt(y+dy, 0, h-1)
				for x := 0; x < w; x++ {
					xx := clampInt(x+dx, 0, w-1)
					d := luma[y*w+x] - luma[yy*w+xx]
					diff[y*w+x] = d * d
				}
			}
			boxSumPlane(ssd, diff, w, h, patch)
			for y := 0; y < h; y++ {
				yy := clampInt(y+dy, 0, h-1)
				for x := 0; x < w; x++ {
					xx := clampInt(x+dx, 0, w-1)
					idx := y*w + x
					wgt := expNeg(ssd[idx] * invH2)
					p := src.Pix[yy*src.Stride+xx*4:]
					accW[idx] += wgt
					accR[idx] += wgt * float32(p[0])
					accG[idx] += wgt * float32(p[1])
					accB[idx] += wgt * float32(p[2])
				}
			}
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			o := out.Pix[y*out.Stride+x*4:]
			inv := 1 / accW[idx]
			o[0] = clampU8(accR[idx] * inv)
			o[1] = clampU8(accG[idx] * inv)
			o[2] = clampU8(accB[idx] * inv)
			o[3] = src.Pix[y*src.Stride+x*4+3]
		}
	}
	return out
}

// boxSumPlane writes the (2r+1)^2 windowed sum of src into dst with clamped
// borders, as two running passes.
func boxSumPlane(dst, src []float32, w, h, r int) {
	tmp := acquirePlane(w * h)
	defer releasePlane(tmp)

	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		trow := tmp[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float32
			for i := -r; i <= r; i++ {
				acc += row[clampInt(x+i, 0, w-1)]
			}
			trow[x] = acc
		}
	}
	for y := 0; y < h; y++ {
		drow := dst[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float32
			for i := -r; i <= r; i++ {
				acc += tmp[clampInt(y+i, 0, h-1)*w+x]
			}
			drow[x] = acc
		}
	}
}
