// Package stage defines the common lifecycle every pipeline stage
// implements, generalizing the teacher's Capturer/Output interface
// pattern (Start/Stop/Name/IsRunning) to the recorder pipeline.
package stage

// Stage is satisfied by every pipeline component that sits between two
// packet buffers or between a buffer and the outside world. Setters that
// rewire a stage (scale.Stage.SetPipeline once Start has been called,
// glcapture.Stage.SetBuffer once a buffer is set) return
// perr.ErrAlreadyRunning; glcapture's rate and format setters are not
// gated this way and may be called at any time.
type Stage interface {
	// Init prepares the stage without starting its worker goroutines.
	Init() error

	// Start begins processing. Init must have already succeeded.
	Start() error

	// Stop blocks until the stage's in-flight work has drained and its
	// workers have exited.
	Stop() error

	// Destroy releases resources Init acquired. The stage cannot be
	// restarted after Destroy.
	Destroy() error

	// Name returns a human-readable identifier for logging and the
	// monitoring API.
	Name() string

	// IsRunning reports whether Start has completed and Stop has not.
	IsRunning() bool
}
