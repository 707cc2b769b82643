package output

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/state"
)

// pipeFrameHeaderSize is the fixed prefix PipeOutput writes before each raw
// RGBA frame: stream id, presentation time, width, height, all
// little-endian, so an external reader (a named pipe feeding an encoder
// front-end) needs only one framing rule for the whole stream. Building
// the encoder front-end itself is out of scope; this is the seam it plugs
// into.
const pipeFrameHeaderSize = 4 + 8 + 4 + 4

// PipeOutput writes framed raw RGBA frames to an io.Writer, typically a
// named pipe (mkfifo) that an external process (ffmpeg, gstreamer) reads
// from. It never closes w.
type PipeOutput struct {
	w io.Writer

	mu      sync.Mutex
	running bool
}

// NewPipeOutput wraps w as a pipeline output.
func NewPipeOutput(w io.Writer) *PipeOutput {
	return &PipeOutput{w: w}
}

func (p *PipeOutput) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pipe output already running")
	}
	p.running = true
	return nil
}

func (p *PipeOutput) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return nil
}

func (p *PipeOutput) Name() string { return "Pipe" }

func (p *PipeOutput) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Consume implements Output. A write error to the pipe (e.g. the reading
// process exited, closing its end) stops the drain loop and is returned to
// the caller, unlike MJPEG/File which log-and-drop per-frame failures,
// since a broken pipe here means there is no longer anyone downstream to
// serve.
func (p *PipeOutput) Consume(buf *pbuf.Buffer, cancel *state.Flag) error {
	var writeErr error
	err := drainLoop(buf, cancel, func(id uint32, t uint64, img *image.RGBA) {
		if writeErr != nil || !p.IsRunning() {
			return
		}
		writeErr = p.writeFrame(id, t, img)
	}, nil)
	if writeErr != nil {
		return writeErr
	}
	return err
}

func (p *PipeOutput) writeFrame(id uint32, t uint64, img *image.RGBA) error {
	bounds := img.Bounds()
	w, h := uint32(bounds.Dx()), uint32(bounds.Dy())

	hdr := make([]byte, pipeFrameHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], id)
	binary.LittleEndian.PutUint64(hdr[4:12], t)
	binary.LittleEndian.PutUint32(hdr[12:16], w)
	binary.LittleEndian.PutUint32(hdr[16:20], h)

	if _, err := p.w.Write(hdr); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := p.w.Write(img.Pix); err != nil {
		return fmt.Errorf("write frame data: %w", err)
	}
	return nil
}
