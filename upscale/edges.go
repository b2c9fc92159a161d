package upscale

import "image"

// edgeEnhance boosts pixels toward their unsharp difference in proportion
// to the local Sobel gradient strength, so flat regions stay untouched and
// strong edges get the full gain. A conservative global equalization blend
// on the luminance channel then lifts local contrast without shifting hue.
func edgeEnhance(src *image.NRGBA, t tuning) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()

	luma := acquirePlane(w * h)
	gx := acquirePlane(w * h)
	gy := acquirePlane(w * h)
	mag := acquirePlane(w * h)
	blurred := acquirePlane(w * h)
	chans := acquirePlane(w * h)
	defer func() {
		for _, p := range [][]float32{luma, gx, gy, mag, blurred, chans} {
			releasePlane(p)
		}
	}()

	lumaPlane(src, luma)
	maxMag := sobelGradients(luma, w, h, gx, gy, mag)

	boosted := image.NewNRGBA(src.Rect)
	if maxMag == 0 {
		copy(boosted.Pix, src.Pix)
	} else {
		copy(boosted.Pix, src.Pix) // carries alpha; RGB rewritten below
		invMax := 1 / maxMag
		for ch := 0; ch < 3; ch++ {
			channelPlane(src, ch, chans)
			blurPlane(blurred, chans, w, h, t.unsharpSigma)
			for y := 0; y < h; y++ {
				row := src.Pix[y*src.Stride:]
				brow := boosted.Pix[y*boosted.Stride:]
				for x := 0; x < w; x++ {
					idx := y*w + x
					gain := float32(t.edgeGain) * mag[idx] * invMax
					v := float32(row[x*4+ch])
					brow[x*4+ch] = clampU8(v + gain*(v-blurred[idx]))
				}
			}
		}
	}

	return luminanceContrast(boosted, t.localContrast)
}

// luminanceContrast blends a global histogram equalization into the
// luminance channel, scaling RGB radially so hue is preserved. weight 0
// returns a plain copy.
func luminanceContrast(src *image.NRGBA, weight float64) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewNRGBA(src.Rect)
	if weight <= 0 {
		copy(out.Pix, src.Pix)
		return out
	}

	luma := acquirePlane(w * h)
	defer releasePlane(luma)
	lumaPlane(src, luma)

	var hist [256]int
	for _, l := range luma {
		hist[clampInt(int(l+0.5), 0, 255)]++
	}
	// Midpoint-anchored CDF: each bin maps to the middle of its cumulative
	// span, which keeps near-uniform regions near their original level.
	total := w * h
	var eq [256]float32
	cum := 0
	for i := 0; i < 256; i++ {
		eq[i] = (float32(cum) + float32(hist[i])/2) * 255 / float32(total)
		cum += hist[i]
	}

	wf := float32(weight)
	for y := 0; y < h; y++ {
		srow := src.Pix[y*src.Stride:]
		orow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			l := luma[y*w+x]
			if l < 0.5 {
				copy(orow[x*4:x*4+4], srow[x*4:x*4+4])
				continue
			}
			target := l + wf*(eq[clampInt(int(l+0.5), 0, 255)]-l)
			scale := target / l
			orow[x*4+0] = clampU8(float32(srow[x*4+0]) * scale)
			orow[x*4+1] = clampU8(float32(srow[x*4+1]) * scale)
			orow[x*4+2] = clampU8(float32(srow[x*4+2]) * scale)
			orow[x*4+3] = srow[x*4+3]
		}
	}
	return out
}
