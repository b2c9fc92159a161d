package core

import (
	"image"
	"image/draw"
)

// ToNRGBA expands the sample buffer into an *image.NRGBA working plane.
// Gray samples are replicated into R, G and B; missing alpha becomes opaque.
// The returned image owns its own buffer.
func (r *RasterImage) ToNRGBA() *image.NRGBA {
	n := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	switch r.Channels {
	case 4:
		copy(n.Pix, r.Pix)
	case 3:
		for i, j := 0, 0; i < len(r.Pix); i, j = i+3, j+4 {
			n.Pix[j+0] = r.Pix[i+0]
			n.Pix[j+1] = r.Pix[i+1]
			n.Pix[j+2] = r.Pix[i+2]
			n.Pix[j+3] = 0xff
		}
	case 1:
		for i, j := 0, 0; i < len(r.Pix); i, j = i+1, j+4 {
			v := r.Pix[i]
			n.Pix[j+0] = v
			n.Pix[j+1] = v
			n.Pix[j+2] = v
			n.Pix[j+3] = 0xff
		}
	}
	return n
}

// FromNRGBA packs a working plane back into a RasterImage with the given
// channel count. For channels==1 the red plane is taken: every enhancement
// stage is channel-symmetric, so gray-sourced planes stay replicated and
// R carries the luminance unchanged.
func FromNRGBA(n *image.NRGBA, channels int) *RasterImage {
	b := n.Bounds()
	w, h := b.Dx(), b.Dy()
	out := NewRasterImage(w, h, channels)
	for y := 0; y < h; y++ {
		src := n.Pix[n.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[y*w*channels:]
		switch channels {
		case 4:
			copy(dst[:w*4], src[:w*4])
		case 3:
			for x := 0; x < w; x++ {
				dst[x*3+0] = src[x*4+0]
				dst[x*3+1] = src[x*4+1]
				dst[x*3+2] = src[x*4+2]
			}
		case 1:
			for x := 0; x < w; x++ {
				dst[x] = src[x*4]
			}
		}
	}
	return out
}

// ChannelsOf reports the channel count implied by a decoded image type:
// 1 for grayscale, 4 when a non-opaque alpha channel is present, 3 otherwise.
func ChannelsOf(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.YCbCr, *image.CMYK:
		return 3
	}
	if op, ok := img.(interface{ Opaque() bool }); ok && op.Opaque() {
		return 3
	}
	return 4
}

// FromImage converts any decoded image.Image into a RasterImage, preserving
// the channel count implied by the source type.
func FromImage(img image.Image) *RasterImage {
	channels := ChannelsOf(img)
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if g, ok := img.(*image.Gray); ok {
		out := NewRasterImage(w, h, 1)
		for y := 0; y < h; y++ {
			copy(out.Pix[y*w:(y+1)*w], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):][:w])
		}
		return out
	}

	n, ok := img.(*image.NRGBA)
	if !ok {
		n = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	}
	return FromNRGBA(n, channels)
}
