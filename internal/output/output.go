// Package output defines the pipeline's terminal stages: consumers that
// drain a wire-message packet buffer and turn it into something outside
// the pipeline can use (an HTTP MJPEG stream, a file, a named pipe for an
// external encoder).
package output

import (
	"image"
	"image/color"

	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/perr"
	"github.com/glcs-go/recorder/internal/state"
	"github.com/glcs-go/recorder/internal/wire"
)

// Output is a terminal pipeline stage. Consume blocks, reading messages
// from buf until cancel fires or the buffer is closed/cancelled; it
// returns nil on a clean shutdown and a non-nil error only for an
// unexpected I/O failure downstream.
type Output interface {
	Start() error
	Stop() error
	Consume(buf *pbuf.Buffer, cancel *state.Flag) error
	Name() string
	IsRunning() bool
}

// Config holds common configuration for all output types.
type Config struct {
	Width  int
	Height int
	FPS    int
}

// streamFormat tracks the geometry needed to interpret a VideoFrame
// message's raw pixel payload, keyed by stream id.
type streamFormat struct {
	w, h uint32
	bpp  uint32
}

// drainLoop is the shared read/dispatch loop every Output's Consume
// implementation runs: it decodes VideoFormat and VideoFrame messages and
// calls back into onFrame with a materialized image.RGBA, leaving every
// other message kind (AudioFormat, AudioData, Color, Close) to onOther.
func drainLoop(buf *pbuf.Buffer, cancel *state.Flag, onFrame func(id uint32, t uint64, img *image.RGBA), onOther func(hdr wire.Header, payload []byte)) error {
	formats := make(map[uint32]streamFormat)

	for {
		if cancel != nil && cancel.Cancelled() {
			return nil
		}

		handle, err := buf.Open(pbuf.ModeRead)
		switch err {
		case nil:
		case perr.ErrCancelled, perr.ErrClosed:
			return nil
		default:
			return err
		}

		data := handle.Bytes()
		hdr, herr := wire.ParseHeader(data)
		if herr != nil {
			handle.Close()
			continue
		}

		switch hdr.Type {
		case wire.MsgVideoFormat:
			m, err := wire.UnmarshalVideoFormat(data)
			if err == nil {
				bpp := uint32(3)
				if m.Format == wire.PixBGRA {
					bpp = 4
				}
				formats[m.ID] = streamFormat{w: m.Width, h: m.Height, bpp: bpp}
			}
			if onOther != nil {
				onOther(hdr, data)
			}
		case wire.MsgVideoFrame:
			m, off, err := wire.UnmarshalVideoFrameHeader(data)
			if err == nil {
				if fmtInfo, ok := formats[m.ID]; ok {
					img := decodeFrame(data[off:], fmtInfo)
					if onFrame != nil {
						onFrame(m.ID, m.Time, img)
					}
				}
			}
		default:
			if onOther != nil {
				onOther(hdr, data)
			}
		}

		handle.Close()
	}
}

// decodeFrame interprets a packed BGR/BGRA pixel buffer (as produced by
// internal/scale or internal/glcapture) as an image.RGBA.
func decodeFrame(pix []byte, f streamFormat) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(f.w), int(f.h)))
	row := f.w * f.bpp
	for y := uint32(0); y < f.h; y++ {
		base := y * row
		for x := uint32(0); x < f.w; x++ {
			i := base + x*f.bpp
			if i+2 >= uint32(len(pix)) {
				continue
			}
			img.SetRGBA(int(x), int(y), color.RGBA{R: pix[i+2], G: pix[i+1], B: pix[i+0], A: 255})
		}
	}
	return img
}
