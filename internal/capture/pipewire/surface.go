// Package pipewire adapts a PipeWire ScreenCast node, negotiated through
// internal/portal, into a glcapture.Surface backed by a GStreamer pipeline.
package pipewire

import (
	"fmt"
	"sync"
	"time"

	"github.com/glcs-go/recorder/internal/glcapture"
	"github.com/glcs-go/recorder/internal/logger"
	"github.com/glcs-go/recorder/internal/portal"
	"github.com/glcs-go/recorder/internal/wire"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Surface implements glcapture.Surface over a pipewiresrc ! videoconvert !
// appsink pipeline. Unlike the polling-cache design this backend used to
// carry, ReadPixels pulls a fresh sample synchronously so the capture
// stage's own rate gate is the only thing pacing frames.
type Surface struct {
	session  *portal.Session
	pipeline *gst.Pipeline
	sink     *app.Sink

	mu      sync.Mutex
	running bool
	w, h    uint32
}

// NewSurface negotiates a ScreenCast session and starts the backing
// GStreamer pipeline against the resulting PipeWire node.
func NewSurface(opts portal.Options) (*Surface, error) {
	session, err := portal.Negotiate(opts)
	if err != nil {
		return nil, fmt.Errorf("negotiate screencast session: %w", err)
	}

	s := &Surface{session: session}
	if err := s.start(session.NodeID()); err != nil {
		session.Close()
		return nil, err
	}
	return s, nil
}

func (s *Surface) start(nodeID uint32) error {
	log := logger.WithComponent("pipewire-surface")
	gst.Init(nil)

	pipelineStr := fmt.Sprintf(
		"pipewiresrc path=%d do-timestamp=true ! "+
			"videoconvert ! "+
			"video/x-raw,format=BGRA ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true",
		nodeID,
	)
	log.Debug().Str("pipeline", pipelineStr).Msg("creating pipewire capture pipeline")

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return fmt.Errorf("set pipeline playing: %w", err)
	}

	s.mu.Lock()
	s.pipeline = pipeline
	s.sink = app.SinkFromElement(sinkElement)
	s.running = true
	s.mu.Unlock()

	return nil
}

// Close stops the pipeline and the underlying portal session.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.pipeline != nil {
		s.pipeline.SetState(gst.StateNull)
		s.pipeline.Unref()
		s.pipeline = nil
	}
	s.running = false
	s.mu.Unlock()

	if s.session != nil {
		return s.session.Close()
	}
	return nil
}

// Geometry implements glcapture.Surface: it returns the most recent known
// frame dimensions, falling back to pulling a fresh sample if none has
// arrived yet; that sample is consumed here and not handed to ReadPixels.
func (s *Surface) Geometry() (uint32, uint32, error) {
	s.mu.Lock()
	w, h := s.w, s.h
	s.mu.Unlock()
	if w != 0 && h != 0 {
		return w, h, nil
	}

	sample, caps, err := s.pullSample(500 * time.Millisecond)
	if err != nil {
		return 0, 0, err
	}
	defer sample.Unref()
	return caps.w, caps.h, nil
}

// Gamma implements glcapture.Surface. PipeWire streams carry no gamma
// metadata; the compositor is assumed to have already applied color
// correction before compositing the shared surface.
func (s *Surface) Gamma() (float32, float32, float32, error) {
	return 1, 1, 1, nil
}

// ReadPixels implements glcapture.Surface: it blocks for one fresh sample
// and repacks it into the requested packed format.
func (s *Surface) ReadPixels(rect glcapture.Rect, format wire.PixelFormat, packAlignment int, dst []byte) error {
	sample, caps, err := s.pullSample(2 * time.Second)
	if err != nil {
		return err
	}
	defer sample.Unref()

	s.mu.Lock()
	s.w, s.h = caps.w, caps.h
	s.mu.Unlock()

	buffer := sample.GetBuffer()
	if buffer == nil {
		return fmt.Errorf("pipewire sample had no buffer")
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return fmt.Errorf("failed to map pipewire buffer")
	}
	defer buffer.Unmap()

	return convertBGRA(mapInfo.Bytes(), caps.w, caps.h, rect, format, packAlignment, dst)
}

type sampleCaps struct{ w, h uint32 }

func (s *Surface) pullSample(timeout time.Duration) (*gst.Sample, sampleCaps, error) {
	s.mu.Lock()
	sink := s.sink
	running := s.running
	s.mu.Unlock()

	if !running || sink == nil {
		return nil, sampleCaps{}, fmt.Errorf("pipewire pipeline not running")
	}

	sample := sink.TryPullSample(timeout)
	if sample == nil {
		return nil, sampleCaps{}, fmt.Errorf("timed out waiting for pipewire sample")
	}

	caps := sample.GetCaps()
	if caps == nil {
		sample.Unref()
		return nil, sampleCaps{}, fmt.Errorf("pipewire sample had no caps")
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		sample.Unref()
		return nil, sampleCaps{}, fmt.Errorf("pipewire caps had no structure")
	}
	wv, _ := structure.GetValue("width")
	hv, _ := structure.GetValue("height")
	w, _ := wv.(int)
	h, _ := hv.(int)
	if w <= 0 || h <= 0 {
		sample.Unref()
		return nil, sampleCaps{}, fmt.Errorf("invalid pipewire frame dimensions %dx%d", w, h)
	}

	return sample, sampleCaps{w: uint32(w), h: uint32(h)}, nil
}

// convertBGRA crops rect out of a full BGRA frame and repacks it into the
// requested output format and row alignment.
func convertBGRA(data []byte, fullW, fullH uint32, rect glcapture.Rect, format wire.PixelFormat, packAlignment int, dst []byte) error {
	if rect.X+rect.W > fullW || rect.Y+rect.H > fullH {
		return fmt.Errorf("crop rect %+v exceeds frame bounds %dx%d", rect, fullW, fullH)
	}

	dstBpp := 3
	if format == wire.PixBGRA {
		dstBpp = 4
	}
	rowBytes := int(rect.W) * dstBpp
	if packAlignment > 1 && rowBytes%packAlignment != 0 {
		rowBytes += packAlignment - rowBytes%packAlignment
	}

	for y := uint32(0); y < rect.H; y++ {
		srcRow := (rect.Y + y) * fullW * 4
		dstRow := int(y) * rowBytes
		for x := uint32(0); x < rect.W; x++ {
			si := int(srcRow + (rect.X+x)*4)
			di := dstRow + int(x)*dstBpp
			if si+3 >= len(data) || di+dstBpp-1 >= len(dst) {
				continue
			}
			dst[di+0] = data[si+0]
			dst[di+1] = data[si+1]
			dst[di+2] = data[si+2]
			if dstBpp == 4 {
				dst[di+3] = data[si+3]
			}
		}
	}
	return nil
}
