package upscale

import (
	"image"
	"math"
	"sync"
)

// planePool recycles float32 scratch planes used by the filtering stages.
// Planes are fully overwritten before being read, so stale contents never
// leak between runs.
var planePool = sync.Pool{
	New: func() interface{} { return make([]float32, 0, 4096) },
}

func acquirePlane(n int) []float32 {
	p := planePool.Get().([]float32)
	if cap(p) < n {
		p = make([]float32, n)
	}
	return p[:n]
}

func releasePlane(p []float32) {
	planePool.Put(p[:0]) //nolint:staticcheck // slice headers are cheap here
}

// kernelCache memoizes normalized 1D Gaussian kernels keyed by quantized
// sigma. The tuning tables use a handful of sigmas, so the cache stays tiny.
var (
	kernelMu    sync.RWMutex
	kernelCache = map[int][]float32{}
)

func cachedGaussianKernel(sigma float64) []float32 {
	key := int(sigma*100 + 0.5)
	kernelMu.RLock()
	k, ok := kernelCache[key]
	kernelMu.RUnlock()
	if ok {
		return k
	}
	k = gaussianKernel1D(sigma)
	kernelMu.Lock()
	kernelCache[key] = k
	kernelMu.Unlock()
	return k
}

// gaussianKernel1D builds a normalized 1D Gaussian kernel for sigma.
// Width is 2*ceil(3*sigma)+1, covering three standard deviations.
func gaussianKernel1D(sigma float64) []float32 {
	r := int(math.Ceil(3 * sigma))
	if r < 1 {
		r = 1
	}
	k := make([]float32, 2*r+1)
	sum := 0.0
	for i := -r; i <= r; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+r] = float32(v)
		sum += v
	}
	inv := float32(1 / sum)
	for i := range k {
		k[i] *= inv
	}
	return k
}

// blurPlane applies a separable Gaussian blur to src, writing into dst.
// Borders are clamped. dst and src must both be w*h long and distinct.
func blurPlane(dst, src []float32, w, h int, sigma float64) {
	k := cachedGaussianKernel(sigma)
	r := len(k) / 2
	tmp := acquirePlane(w * h)
	defer releasePlane(tmp)

	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		trow := tmp[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float32
			for i := -r; i <= r; i++ {
				acc += row[clampInt(x+i, 0, w-1)] * k[i+r]
			}
			trow[x] = acc
		}
	}
	for y := 0; y < h; y++ {
		drow := dst[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float32
			for i := -r; i <= r; i++ {
				acc += tmp[clampInt(y+i, 0, h-1)*w+x] * k[i+r]
			}
			drow[x] = acc
		}
	}
}

// lumaPlane extracts full-range BT.601 luminance into dst (w*h long).
func lumaPlane(src *image.NRGBA, dst []float32) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		drow := dst[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			r := float32(row[x*4+0])
			g := float32(row[x*4+1])
			b := float32(row[x*4+2])
			drow[x] = 0.299*r + 0.587*g + 0.114*b
		}
	}
}

// sobelGradients fills gx, gy and the gradient magnitude for a luma plane
// with clamped borders, returning the maximum magnitude found.
func sobelGradients(l []float32, w, h int, gx, gy, mag []float32) float32 {
	var maxMag float32
	for y := 0; y < h; y++ {
		ym := clampInt(y-1, 0, h-1) * w
		y0 := y * w
		yp := clampInt(y+1, 0, h-1) * w
		for x := 0; x < w; x++ {
			xm := clampInt(x-1, 0, w-1)
			xp := clampInt(x+1, 0, w-1)
			tl, tc, tr := l[ym+xm], l[ym+x], l[ym+xp]
			cl, cr := l[y0+xm], l[y0+xp]
			bl, bc, br := l[yp+xm], l[yp+x], l[yp+xp]
			gxv := (tr + 2*cr + br) - (tl + 2*cl + bl)
			gyv := (bl + 2*bc + br) - (tl + 2*tc + tr)
			m := float32(math.Sqrt(float64(gxv*gxv + gyv*gyv)))
			idx := y0 + x
			gx[idx], gy[idx], mag[idx] = gxv, gyv, m
			if m > maxMag {
				maxMag = m
			}
		}
	}
	return maxMag
}

// channelPlane extracts one NRGBA channel (0=R, 1=G, 2=B, 3=A) into dst.
func channelPlane(src *image.NRGBA, ch int, dst []float32) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		drow := dst[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			drow[x] = float32(row[x*4+ch])
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampU8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
