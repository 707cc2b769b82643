// Package indicator draws a small recording marker directly into a
// packed BGR/BGRA pixel buffer, the same buffer glcapture.Stage.Frame
// fills via Surface.ReadPixels. The capture stage never materializes an
// image.Image for its raw frame, so this blends the marker straight
// into the packed bytes instead of going through image/draw.
package indicator

import "github.com/glcs-go/recorder/internal/wire"

// Diameter is the size, in pixels, of the recording dot.
const Diameter = 14

// Margin is the gap, in pixels, between the dot and the frame edges.
const Margin = 8

// color is a solid red dot at roughly 70% opacity, matching a typical
// screen-recorder "live" indicator.
var (
	dotR, dotG, dotB = uint8(220), uint8(38), uint8(38)
	dotAlpha         = 0.7
)

// Draw paints a filled circle in the top-right corner of a w x h frame
// whose rows are `row` bytes wide and encoded in format. It is a no-op
// for formats indicator does not know how to blend into (e.g. planar
// YCbCr), since the capture stage only ever calls this for BGR/BGRA.
func Draw(dst []byte, w, h, row uint32, format wire.PixelFormat) {
	bpp := format.BytesPerPixel()
	if bpp == 0 || w == 0 || h == 0 {
		return
	}

	radius := Diameter / 2
	cx := int(w) - Margin - radius
	cy := Margin + radius
	if cx < radius || cy < radius {
		return
	}

	for y := cy - radius; y <= cy+radius; y++ {
		if y < 0 || y >= int(h) {
			continue
		}
		dy := y - cy
		for x := cx - radius; x <= cx+radius; x++ {
			if x < 0 || x >= int(w) {
				continue
			}
			dx := x - cx
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			blendPixel(dst, uint32(x), uint32(y), row, bpp, format)
		}
	}
}

// blendPixel alpha-blends the indicator color into one packed pixel,
// leaving byte order to the format: BGR(A) both store blue first.
func blendPixel(dst []byte, x, y, row uint32, bpp int, format wire.PixelFormat) {
	off := int(y*row) + int(x)*bpp
	if off < 0 || off+bpp > len(dst) {
		return
	}

	b, g, r := dst[off], dst[off+1], dst[off+2]
	dst[off] = blendChannel(b, dotB)
	dst[off+1] = blendChannel(g, dotG)
	dst[off+2] = blendChannel(r, dotR)
	if format == wire.PixBGRA && bpp >= 4 {
		dst[off+3] = 0xff
	}
}

func blendChannel(dst, src uint8) uint8 {
	return uint8(float64(src)*dotAlpha + float64(dst)*(1-dotAlpha))
}
