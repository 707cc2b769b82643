package output

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"sync"
	"sync/atomic"

	"github.com/glcs-go/recorder/internal/logger"
	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/state"
)

// FileOutput writes every captured frame to disk as a numbered JPEG file
// under a directory, the simplest possible "on-disk container" a caller
// can point an external muxer at. Building an actual container format
// (e.g. Matroska/MP4) is explicitly out of scope; this is the narrow seam
// the pipeline offers instead.
type FileOutput struct {
	dir     string
	quality int

	mu      sync.Mutex
	running bool
	count   atomic.Uint64
}

// NewFileOutput returns an Output that writes frame-NNNNNNNN.jpg files
// into dir, creating it if necessary.
func NewFileOutput(dir string, quality int) *FileOutput {
	if quality <= 0 {
		quality = 90
	}
	return &FileOutput{dir: dir, quality: quality}
}

func (f *FileOutput) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return fmt.Errorf("file output already running")
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f.running = true
	f.count.Store(0)
	return nil
}

func (f *FileOutput) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *FileOutput) Name() string { return "File" }

func (f *FileOutput) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Consume implements Output.
func (f *FileOutput) Consume(buf *pbuf.Buffer, cancel *state.Flag) error {
	log := logger.WithComponent("file-output")
	return drainLoop(buf, cancel, func(id uint32, t uint64, img *image.RGBA) {
		if !f.IsRunning() {
			return
		}
		n := f.count.Add(1)
		path := fmt.Sprintf("%s/frame-%08d.jpg", f.dir, n)
		file, err := os.Create(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("create frame file")
			return
		}
		defer file.Close()
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: f.quality}); err != nil {
			log.Error().Err(err).Str("path", path).Msg("encode frame")
		}
	}, nil)
}
