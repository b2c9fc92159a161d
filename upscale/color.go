package upscale

import "image"

// Full-range BT.601 coefficients, matching the JPEG YCbCr convention.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114

	cbScale = 0.564334 // 0.5 / (1 - lumaB)
	crScale = 0.713267 // 0.5 / (1 - lumaR)

	invCr  = 1.402    // R = Y + invCr*(Cr-128)
	invCbG = 0.344136 // G = Y - invCbG*(Cb-128) - invCrG*(Cr-128)
	invCrG = 0.714136
	invCb  = 1.772 // B = Y + invCb*(Cb-128)
)

// colorCorrect converts to a luminance/chrominance model, applies tiled
// CLAHE with a low clip limit to the luminance channel only, boosts chroma
// saturation by at most 10% and converts back. Contrast never shifts hue
// because chroma is scaled radially around the neutral axis.
func colorCorrect(src *image.NRGBA, t tuning) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()

	yp := acquirePlane(w * h)
	cb := acquirePlane(w * h)
	cr := acquirePlane(w * h)
	defer func() {
		releasePlane(yp)
		releasePlane(cb)
		releasePlane(cr)
	}()

	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			r := float32(row[x*4+0])
			g := float32(row[x*4+1])
			b := float32(row[x*4+2])
			lum := lumaR*r + lumaG*g + lumaB*b
			idx := y*w + x
			yp[idx] = lum
			cb[idx] = 128 + (b-lum)*cbScale
			cr[idx] = 128 + (r-lum)*crScale
		}
	}

	claheLuma(yp, w, h, t.claheTiles, t.claheClip)

	sat := float32(1 + t.satBoost)
	out := image.NewNRGBA(src.Rect)
	for y := 0; y < h; y++ {
		srow := src.Pix[y*src.Stride:]
		orow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			idx := y*w + x
			lum := yp[idx]
			dcb := (cb[idx] - 128) * sat
			dcr := (cr[idx] - 128) * sat
			orow[x*4+0] = clampU8(lum + invCr*dcr)
			orow[x*4+1] = clampU8(lum - invCbG*dcb - invCrG*dcr)
			orow[x*4+2] = clampU8(lum + invCb*dcb)
			orow[x*4+3] = srow[x*4+3]
		}
	}
	return out
}

// claheLuma equalizes the luminance plane in place with a contrast-limited
// tiled histogram: per-tile clipped CDF mappings, bilinearly interpolated
// between the four surrounding tile centers for every pixel. The low clip
// limit bounds the slope of each mapping, which is what keeps the result
// free of banding.
func claheLuma(l []float32, w, h, tiles int, clip float64) {
	tx := clampInt(tiles, 1, w)
	ty := clampInt(tiles, 1, h)

	// Per-tile clipped CDF mappings.
	maps := make([][256]float32, tx*ty)
	for tyi := 0; tyi < ty; tyi++ {
		y0, y1 := tyi*h/ty, (tyi+1)*h/ty
		for txi := 0; txi < tx; txi++ {
			x0, x1 := txi*w/tx, (txi+1)*w/tx

			var hist [256]int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[clampInt(int(l[y*w+x]+0.5), 0, 255)]++
				}
			}
			total := (y1 - y0) * (x1 - x0)

			limit := int(clip * float64(total) / 256)
			if limit < 1 {
				limit = 1
			}
			excess := 0
			for i := 0; i < 256; i++ {
				if hist[i] > limit {
					excess += hist[i] - limit
					hist[i] = limit
				}
			}
			// Redistribute clipped mass uniformly; the remainder goes to the
			// lowest bins so totals stay exact.
			share, rem := excess/256, excess%256
			for i := 0; i < 256; i++ {
				hist[i] += share
				if i < rem {
					hist[i]++
				}
			}

			m := &maps[tyi*tx+txi]
			cum := 0
			for i := 0; i < 256; i++ {
				cum += hist[i]
				m[i] = float32(cum) * 255 / float32(total)
			}
		}
	}

	// Bilinear interpolation between tile mappings.
	twf := float64(w) / float64(tx)
	thf := float64(h) / float64(ty)
	for y := 0; y < h; y++ {
		gy := (float64(y)+0.5)/thf - 0.5
		j0 := clampInt(int(gy), 0, ty-1)
		if gy < 0 {
			gy = 0
		}
		j1 := clampInt(j0+1, 0, ty-1)
		wy := float32(gy - float64(j0))
		if wy < 0 {
			wy = 0
		}
		for x := 0; x < w; x++ {
			gx := (float64(x)+0.5)/twf - 0.5
			i0 := clampInt(int(gx), 0, tx-1)
			if gx < 0 {
				gx = 0
			}
			i1 := clampInt(i0+1, 0, tx-1)
			wx := float32(gx - float64(i0))
			if wx < 0 {
				wx = 0
			}

			v := clampInt(int(l[y*w+x]+0.5), 0, 255)
			top := (1-wx)*maps[j0*tx+i0][v] + wx*maps[j0*tx+i1][v]
			bot := (1-wx)*maps[j1*tx+i0][v] + wx*maps[j1*tx+i1][v]
			l[y*w+x] = (1-wy)*top + wy*bot
		}
	}
}
