package upscale

import "image"

// sharpenMasked applies unsharp masking only inside a dilated Canny-class
// edge mask. Object boundaries get crisped; flat and smooth regions pass
// through byte-identical.
func sharpenMasked(src *image.NRGBA, t tuning) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewNRGBA(src.Rect)
	copy(out.Pix, src.Pix)

	mask := cannyMask(src, t.cannyLow, t.cannyHigh)
	if mask == nil {
		return out // no edges anywhere
	}
	dilateMask(mask, w, h, t.dilateRadius)

	chans := acquirePlane(w * h)
	blurred := acquirePlane(w * h)
	defer func() {
		releasePlane(chans)
		releasePlane(blurred)
	}()

	amount := float32(t.unsharpAmount)
	for ch := 0; ch < 3; ch++ {
		channelPlane(src, ch, chans)
		blurPlane(blurred, chans, w, h, t.unsharpSigma)
		for y := 0; y < h; y++ {
			srow := src.Pix[y*src.Stride:]
			orow := out.Pix[y*out.Stride:]
			for x := 0; x < w; x++ {
				idx := y*w + x
				if mask[idx] == 0 {
					continue
				}
				v := float32(srow[x*4+ch])
				orow[x*4+ch] = clampU8(v + amount*(v-blurred[idx]))
			}
		}
	}
	return out
}

// cannyMask builds a binary edge mask: Gaussian smoothing, Sobel gradients,
// non-maximum suppression along the gradient direction, then double
// thresholding with hysteresis. Thresholds are fractions of the maximum
// gradient magnitude. Returns nil when the image has no gradient at all.
func cannyMask(src *image.NRGBA, low, high float64) []uint8 {
	w, h := src.Rect.Dx(), src.Rect.Dy()

	luma := acquirePlane(w * h)
	smooth := acquirePlane(w * h)
	gx := acquirePlane(w * h)
	gy := acquirePlane(w * h)
	mag := acquirePlane(w * h)
	thin := acquirePlane(w * h)
	defer func() {
		for _, p := range [][]float32{luma, smooth, gx, gy, mag, thin} {
			releasePlane(p)
		}
	}()

	lumaPlane(src, luma)
	blurPlane(smooth, luma, w, h, 1.4)
	maxMag := sobelGradients(smooth, w, h, gx, gy, mag)
	if maxMag == 0 {
		return nil
	}
	lo := float32(low) * maxMag
	hi := float32(high) * maxMag

	// Non-maximum suppression. The gradient direction is quantized to four
	// sectors without atan2: tan(22.5 deg) splits axis from diagonal.
	const tan225 = 0.41421356
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			m := mag[idx]
			if m < lo {
				thin[idx] = 0
				continue
			}
			ax, ay := gx[idx], gy[idx]
			if ax < 0 {
				ax = -ax
			}
			if ay < 0 {
				ay = -ay
			}
			var n1, n2 float32
			switch {
			case ay <= ax*tan225: // horizontal gradient: compare left/right
				n1 = mag[y*w+clampInt(x-1, 0, w-1)]
				n2 = mag[y*w+clampInt(x+1, 0, w-1)]
			case ax <= ay*tan225: // vertical gradient: compare up/down
				n1 = mag[clampInt(y-1, 0, h-1)*w+x]
				n2 = mag[clampInt(y+1, 0, h-1)*w+x]
			case (gx[idx] > 0) == (gy[idx] > 0): // 45 deg diagonal
				n1 = mag[clampInt(y-1, 0, h-1)*w+clampInt(x-1, 0, w-1)]
				n2 = mag[clampInt(y+1, 0, h-1)*w+clampInt(x+1, 0, w-1)]
			default: // 135 deg diagonal
				n1 = mag[clampInt(y-1, 0, h-1)*w+clampInt(x+1, 0, w-1)]
				n2 = mag[clampInt(y+1, 0, h-1)*w+clampInt(x-1, 0, w-1)]
			}
			if m >= n1 && m >= n2 {
				thin[idx] = m
			} else {
				thin[idx] = 0
			}
		}
	}

	// Hysteresis: strong pixels seed the mask, weak pixels join only when
	// 8-connected to it. The result is a reachability set, so traversal
	// order cannot change the output.
	mask := make([]uint8, w*h)
	stack := make([]int, 0, 256)
	for idx, m := range thin {
		if m >= hi {
			mask[idx] = 1
			stack = append(stack, idx)
		}
	}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := idx%w, idx/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := ny*w + nx
				if mask[n] == 0 && thin[n] >= lo {
					mask[n] = 1
					stack = append(stack, n)
				}
			}
		}
	}
	return mask
}

// dilateMask grows the mask by a square structuring element of the given
// radius, in two separable passes.
func dilateMask(mask []uint8, w, h, radius int) {
	if radius < 1 {
		return
	}
	tmp := make([]uint8, len(mask))
	for y := 0; y < h; y++ {
		row := mask[y*w : (y+1)*w]
		trow := tmp[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var v uint8
			for i := -radius; i <= radius; i++ {
				if row[clampInt(x+i, 0, w-1)] != 0 {
					v = 1
					break
				}
			}
			trow[x] = v
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			for i := -radius; i <= radius; i++ {
				if tmp[clampInt(y+i, 0, h-1)*w+x] != 0 {
					v = 1
					break
				}
			}
			mask[y*w+x] = v
		}
	}
}
