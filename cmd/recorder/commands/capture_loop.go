package commands

import (
	"fmt"
	"time"

	"github.com/glcs-go/recorder/internal/capture"
	"github.com/glcs-go/recorder/internal/capture/pipewire"
	"github.com/glcs-go/recorder/internal/glcapture"
	"github.com/glcs-go/recorder/internal/logger"
	"github.com/glcs-go/recorder/internal/portal"
	"github.com/glcs-go/recorder/internal/state"
)

// openSurface constructs the capture backend named by --backend, returning
// a glcapture.Surface and a close func the caller must defer. Shared by
// record and probe since both drive the same capture stage.
func openSurface(backend string) (glcapture.Surface, func(), error) {
	switch backend {
	case "x11":
		s, err := capture.NewX11Surface()
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "pipewire":
		s, err := pipewire.NewSurface(portal.Options{})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown capture backend: %s (use x11 or pipewire)", backend)
	}
}

// frameLoop drives repeated Frame calls against one surface at roughly the
// configured rate. glcapture.Stage.Frame itself decides whether enough
// time has elapsed to actually sample; this loop just needs to call it
// often enough that the stage's own gate can fire on schedule.
type frameLoop struct {
	stage  *glcapture.Stage
	surf   glcapture.Surface
	period time.Duration
	cancel *state.Flag
	done   chan struct{}
}

func newFrameLoop(stage *glcapture.Stage, surf glcapture.Surface, fps float64, cancel *state.Flag) *frameLoop {
	if fps <= 0 {
		fps = 30
	}
	// Poll at roughly 4x the target rate so Frame's own gate, not this
	// loop, determines the effective sampling rate.
	period := time.Duration(float64(time.Second) / fps / 4)
	if period <= 0 {
		period = time.Millisecond
	}
	return &frameLoop{stage: stage, surf: surf, period: period, cancel: cancel, done: make(chan struct{})}
}

func (l *frameLoop) run() {
	log := logger.WithComponent("capture-loop")
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()
	defer close(l.done)

	for {
		select {
		case <-l.cancel.Done():
			return
		case <-ticker.C:
			if err := l.stage.Frame(l.surf); err != nil {
				log.Error().Err(err).Msg("frame capture failed")
				return
			}
		}
	}
}

func (l *frameLoop) stop() {
	<-l.done
}
