// Package glcapture implements the frame capture stage: it samples a set
// of capture surfaces at a configured rate, converts each sample to the
// wire video format, and publishes VideoFormat/VideoFrame/Color messages
// to an output packet buffer. It is deliberately backend-agnostic: a
// Surface implementation supplies the pixels (X11 window, PipeWire
// stream, or a test double), and this package supplies the rate gating,
// geometry bookkeeping, and message framing shared by all of them.
package glcapture

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/glcs-go/recorder/internal/clock"
	"github.com/glcs-go/recorder/internal/indicator"
	"github.com/glcs-go/recorder/internal/logger"
	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/perr"
	"github.com/glcs-go/recorder/internal/rational"
	"github.com/glcs-go/recorder/internal/wire"
)

// Rect is a capture crop region in surface-local pixel coordinates.
type Rect struct {
	X, Y, W, H uint32
}

// Surface supplies pixels for one capture target (a window, a monitor, a
// PipeWire stream). Implementations need not be safe for concurrent Frame
// calls on the same Surface; the Stage never calls into one Surface from
// two goroutines at once.
type Surface interface {
	// Geometry returns the surface's current full (uncropped) size.
	Geometry() (w, h uint32, err error)
	// Gamma returns the surface's current color-correction values, when
	// the backend can observe them. Implementations that cannot should
	// return 1, 1, 1, nil so Frame never emits a spurious Color message.
	Gamma() (r, g, b float32, err error)
	// ReadPixels fills dst with rect's pixels in the given format, packed
	// to a row stride rounded up to packAlignment bytes.
	ReadPixels(rect Rect, format wire.PixelFormat, packAlignment int, dst []byte) error
}

// AsyncSurface is implemented by backends that can start a zero-copy
// transfer and collect it on a later call, mirroring double-buffered PBO
// readback: StartTransfer never blocks for the pixels to arrive, and
// ReadTransfer collects whatever the previous StartTransfer produced.
type AsyncSurface interface {
	Surface
	StartTransfer(rect Rect, format wire.PixelFormat, packAlignment int) error
	ReadTransfer(dst []byte) error
}

// spinlock emulates the source's tight compare-and-swap lock guarding the
// capturing flag, which every Frame call must check cheaply and which
// Stop must acquire to flip atomically with respect to in-flight frames.
type spinlock struct{ state atomic.Uint32 }

func (s *spinlock) Lock() {
	for !s.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (s *spinlock) Unlock() { s.state.Store(0) }

type streamState struct {
	id uint32

	initialized bool
	flags       wire.VideoFlags
	format      wire.PixelFormat
	w, h        uint32
	crop        Rect
	row         uint32

	gammaR, gammaG, gammaB float32

	last uint64

	numFrames, numCaptured, numDropped uint64
	captureTimeNS                      uint64

	capturing atomic.Bool // asserted for the duration of one Frame call

	asyncActive atomic.Bool
	asyncTime   uint64
}

// Stage is a configured capture pipeline. The zero value is not usable;
// construct with New.
type Stage struct {
	out       *pbuf.Buffer
	clock     clock.Source
	spin      spinlock
	capturing atomic.Bool

	fpsPeriod    uint64
	fpsRem       uint64
	fpsRemPeriod uint32

	packAlignment int
	format        wire.PixelFormat
	bpp           uint32

	tryAsync bool

	drawIndicator bool
	ignoreTime    bool
	lockFPS       bool

	cropSet bool
	crop    Rect

	streamsMu sync.Mutex
	streams   map[Surface]*streamState
	nextID    uint32
}

// New returns a Stage with the source's defaults: 30fps, dword-aligned
// 4-byte BGRA sampling.
func New(clk clock.Source) *Stage {
	s := &Stage{
		clock:         clk,
		packAlignment: 8,
		format:        wire.PixBGRA,
		bpp:           4,
		streams:       make(map[Surface]*streamState),
	}
	s.setFPS(30)
	return s
}

func (s *Stage) setFPS(fps float64) {
	period, rem, remPeriod := rational.FPSPeriod(fps)
	s.fpsPeriod, s.fpsRem, s.fpsRemPeriod = period, rem, remPeriod
}

// SetBuffer assigns the output buffer. It may be called exactly once.
func (s *Stage) SetBuffer(buf *pbuf.Buffer) error {
	if s.out != nil {
		return perr.ErrAlreadyRunning
	}
	s.out = buf
	return nil
}

// SetFPS configures the target sampling rate.
func (s *Stage) SetFPS(fps float64) error {
	if fps <= 0 {
		return perr.ErrInvalidArgument
	}
	s.setFPS(fps)
	return nil
}

// SetPackAlignment configures the row-stride rounding applied to sampled
// pixel data; only 1 (byte-aligned) and 8 (dword-aligned) are supported.
func (s *Stage) SetPackAlignment(n int) error {
	if n != 1 && n != 8 {
		return perr.ErrNotSupported
	}
	s.packAlignment = n
	return nil
}

// SetPixelFormat configures the sampled pixel layout.
func (s *Stage) SetPixelFormat(format wire.PixelFormat) error {
	switch format {
	case wire.PixBGRA:
		s.format, s.bpp = format, 4
	case wire.PixBGR:
		s.format, s.bpp = format, 3
	default:
		return perr.ErrNotSupported
	}
	return nil
}

// TryAsyncTransfer enables or disables opportunistic double-buffered
// transfer for surfaces that implement AsyncSurface. Disabling while any
// stream has a transfer in flight fails with ErrBusy.
func (s *Stage) TryAsyncTransfer(enable bool) error {
	if !enable && s.asyncInFlight() {
		return perr.ErrBusy
	}
	s.tryAsync = enable
	return nil
}

// asyncInFlight reports whether any known stream currently has an async
// transfer outstanding.
func (s *Stage) asyncInFlight() bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	for _, ss := range s.streams {
		if ss.asyncActive.Load() {
			return true
		}
	}
	return false
}

// SetDrawIndicator toggles the recording indicator overlay.
func (s *Stage) SetDrawIndicator(draw bool) { s.drawIndicator = draw }

// SetIgnoreTime makes Frame calls always report the wall clock has
// advanced by exactly one fps period, useful for deterministic offline
// re-encoding of a fixed frame sequence.
func (s *Stage) SetIgnoreTime(ignore bool) { s.ignoreTime = ignore }

// SetLockFPS forces Frame to block until a full period has elapsed
// instead of dropping frames that arrive early.
func (s *Stage) SetLockFPS(lock bool) { s.lockFPS = lock }

// SetCrop restricts capture to a sub-rectangle of each surface. Passing
// all zeros disables cropping.
func (s *Stage) SetCrop(x, y, w, h uint32) {
	if x == 0 && y == 0 && w == 0 && h == 0 {
		s.cropSet = false
		return
	}
	s.crop = Rect{X: x, Y: y, W: w, H: h}
	s.cropSet = true
}

// Start begins accepting Frame calls. SetBuffer must have been called
// first.
func (s *Stage) Start() error {
	if s.out == nil {
		return perr.ErrNotReady
	}
	s.capturing.Store(true)
	return nil
}

// Stop deactivates capturing and blocks until every in-flight Frame call
// on every known surface has returned, so no more messages will be
// published after Stop returns.
func (s *Stage) Stop() error {
	s.spin.Lock()
	s.capturing.Store(false)
	s.spin.Unlock()

	s.streamsMu.Lock()
	states := make([]*streamState, 0, len(s.streams))
	for _, ss := range s.streams {
		states = append(states, ss)
	}
	s.streamsMu.Unlock()

	for _, ss := range states {
		for ss.capturing.Load() {
			runtime.Gosched()
		}
		ss.last = 0
		ss.asyncActive.Store(false)
	}
	return nil
}

// Init satisfies stage.Stage. Capture surfaces are registered lazily on
// first Frame call, so there is nothing to prepare before Start beyond
// what SetBuffer/SetFPS/etc. already configured.
func (s *Stage) Init() error { return nil }

// Destroy satisfies stage.Stage. It stops capturing (idempotently, if
// Stop was already called) and drops the stage's surface table.
func (s *Stage) Destroy() error {
	if s.capturing.Load() {
		s.Stop()
	}
	s.streamsMu.Lock()
	s.streams = make(map[Surface]*streamState)
	s.streamsMu.Unlock()
	return nil
}

// Name satisfies stage.Stage.
func (s *Stage) Name() string { return "glcapture" }

// IsRunning satisfies stage.Stage.
func (s *Stage) IsRunning() bool { return s.capturing.Load() }

func (s *Stage) getStream(surf Surface) *streamState {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	ss, ok := s.streams[surf]
	if !ok {
		s.nextID++
		ss = &streamState{id: s.nextID, gammaR: 1, gammaG: 1, gammaB: 1}
		s.streams[surf] = ss
	}
	return ss
}

// Frame samples surf once if the configured fps period has elapsed since
// its last sample. It is safe to call concurrently for distinct surfaces;
// calls for the same surface must be serialized by the caller, mirroring
// one rendering thread driving one drawable.
func (s *Stage) Frame(surf Surface) error {
	s.spin.Lock()
	if !s.capturing.Load() {
		s.spin.Unlock()
		return nil
	}
	ss := s.getStream(surf)
	ss.capturing.Store(true)
	s.spin.Unlock()

	// release clears this stream's barrier bit before any error path
	// that might call Stop, which spin-waits on that same bit and would
	// otherwise deadlock waiting on the call it is nested inside.
	release := func() { ss.capturing.Store(false) }

	now := s.clock.NowNano()
	if s.ignoreTime {
		now = ss.last + s.fpsPeriod
	}

	if now-ss.last < s.fpsPeriod && !s.lockFPS && !s.ignoreTime {
		release()
		return nil
	}

	if err := s.updateStream(surf, ss); err != nil {
		release()
		return s.fail(err)
	}
	ss.numFrames++

	useAsync := s.tryAsync && isAsync(surf)

	if useAsync && ss.asyncActive.CompareAndSwap(false, true) {
		async := surf.(AsyncSurface)
		if err := async.StartTransfer(ss.crop, ss.format, s.packAlignment); err != nil {
			release()
			return s.fail(err)
		}
		ss.asyncTime = now
		release()
		return nil
	}

	wh, err := s.out.Open(pickWriteMode(s.lockFPS || s.ignoreTime))
	if err != nil {
		release()
		if err == perr.ErrBusy {
			s.dropFrame(ss, "buffer full opening frame")
			return nil
		}
		return s.fail(err)
	}

	payloadSize := int(ss.row * ss.crop.H)
	frameTime := now
	if useAsync && ss.asyncTime < now {
		frameTime = ss.asyncTime
	}
	total := wire.HeaderSize + 4 + 8 + payloadSize
	if err := wh.SetSize(total); err != nil {
		wh.Cancel()
		release()
		if err == perr.ErrBusy {
			s.dropFrame(ss, "buffer full sizing frame")
			return nil
		}
		return s.fail(err)
	}

	hdr := wire.MarshalVideoFrameHeader(wire.VideoFrameMsg{ID: ss.id, Time: frameTime})
	if _, err := wh.Write(hdr); err != nil {
		wh.Cancel()
		release()
		return s.fail(err)
	}
	dst, err := wh.DMA(payloadSize, pbuf.AcceptFakeDMA)
	if err != nil {
		wh.Cancel()
		release()
		return s.fail(err)
	}

	if useAsync {
		async := surf.(AsyncSurface)
		if err := async.ReadTransfer(dst); err != nil {
			wh.Cancel()
			release()
			return s.fail(err)
		}
		if err := async.StartTransfer(ss.crop, ss.format, s.packAlignment); err != nil {
			wh.Cancel()
			release()
			return s.fail(err)
		}
		ss.asyncTime = now
	} else if err := surf.ReadPixels(ss.crop, ss.format, s.packAlignment, dst); err != nil {
		wh.Cancel()
		release()
		return s.fail(err)
	}

	if s.drawIndicator {
		indicator.Draw(dst, ss.crop.W, ss.crop.H, ss.row, ss.format)
	}

	if err := wh.Close(); err != nil {
		release()
		return s.fail(err)
	}
	ss.numCaptured++

	if s.lockFPS && !s.ignoreTime {
		now = s.clock.NowNano()
		if now-ss.last < s.fpsPeriod {
			s.clock.Sleep(s.fpsPeriod + ss.last - now)
		}
	}

	ss.last += s.fpsPeriod
	if s.fpsRemPeriod != 0 && ss.numCaptured%uint64(s.fpsRemPeriod) == 0 {
		ss.last += s.fpsRem
	}
	release()
	return nil
}

// dropFrame counts a frame lost to a full output buffer and logs it, the
// Go equivalent of the source's silent `goto cancel` on PS_PACKET_TRY
// contention: the sample is skipped rather than blocking the caller.
func (s *Stage) dropFrame(ss *streamState, reason string) {
	ss.numDropped++
	logger.WithComponent("glcapture").Info().
		Uint32("stream_id", ss.id).
		Uint64("num_dropped", ss.numDropped).
		Str("reason", reason).
		Msg("dropped frame")
}

func pickWriteMode(mustWrite bool) pbuf.Mode {
	if mustWrite {
		return pbuf.ModeWrite
	}
	return pbuf.ModeWriteTry
}

func isAsync(surf Surface) bool {
	_, ok := surf.(AsyncSurface)
	return ok
}

// updateStream refreshes geometry, emits a VideoFormat message when the
// surface's size changed, and emits a Color message when gamma changed.
func (s *Stage) updateStream(surf Surface, ss *streamState) error {
	w, h, err := surf.Geometry()
	if err != nil {
		return err
	}

	if !ss.initialized {
		ss.format = s.format
		if s.packAlignment == 8 {
			ss.flags |= wire.VideoDwordAligned
		}
		ss.initialized = true
	}

	if w != ss.w || h != ss.h {
		s.calcGeometry(ss, w, h)
		if err := s.writeFormat(ss); err != nil {
			return err
		}
	}

	r, g, b, err := surf.Gamma()
	if err != nil {
		return err
	}
	if r != ss.gammaR || g != ss.gammaG || b != ss.gammaB {
		ss.gammaR, ss.gammaG, ss.gammaB = r, g, b
		if err := s.writeColor(ss); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage) calcGeometry(ss *streamState, w, h uint32) {
	ss.w, ss.h = w, h

	if s.cropSet {
		cx := s.crop.X
		if cx > w {
			cx = 0
		}
		cy := s.crop.Y
		if cy > h {
			cy = 0
		}
		cw := s.crop.W
		if cw+cx > w {
			cw = w - cx
		}
		ch := s.crop.H
		if ch+cy > h {
			ch = h - cy
		}
		// Flip y for backends whose pixel origin is bottom-left.
		cy = h - ch - cy
		ss.crop = Rect{X: cx, Y: cy, W: cw, H: ch}
	} else {
		ss.crop = Rect{X: 0, Y: 0, W: w, H: h}
	}

	ss.row = ss.crop.W * s.bpp
	if ss.row%uint32(s.packAlignment) != 0 {
		ss.row += uint32(s.packAlignment) - ss.row%uint32(s.packAlignment)
	}
}

func (s *Stage) writeFormat(ss *streamState) error {
	m := wire.VideoFormatMsg{
		ID:     ss.id,
		Flags:  ss.flags,
		Format: ss.format,
		Width:  ss.crop.W,
		Height: ss.crop.H,
	}
	return s.publish(wire.MarshalVideoFormat(m))
}

func (s *Stage) writeColor(ss *streamState) error {
	m := wire.ColorMsg{
		ID:     ss.id,
		GammaR: ss.gammaR,
		GammaG: ss.gammaG,
		GammaB: ss.gammaB,
	}
	return s.publish(wire.MarshalColor(m))
}

func (s *Stage) publish(payload []byte) error {
	wh, err := s.out.Open(pbuf.ModeWrite)
	if err != nil {
		return err
	}
	if err := wh.SetSize(len(payload)); err != nil {
		wh.Cancel()
		return err
	}
	if _, err := wh.Write(payload); err != nil {
		wh.Cancel()
		return err
	}
	return wh.Close()
}

// RefreshColorCorrection forces every known stream to re-check gamma and
// emit a Color message on its next Frame call, even if the sampled value
// has not changed since the last check.
func (s *Stage) RefreshColorCorrection() {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	for _, ss := range s.streams {
		ss.gammaR, ss.gammaG, ss.gammaB = -1, -1, -1
	}
}

// StreamStats is a point-in-time snapshot of one surface's capture
// counters, exposed for health/monitoring endpoints.
type StreamStats struct {
	ID            uint32
	Width, Height uint32
	Format        wire.PixelFormat
	NumFrames     uint64
	NumCaptured   uint64
	NumDropped    uint64
	CaptureTimeNS uint64
}

// StreamStats returns a snapshot of every known surface's counters. Field
// values may be mid-update relative to a concurrent Frame call; callers
// use this for diagnostics, not for correctness-sensitive decisions.
func (s *Stage) StreamStats() []StreamStats {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	out := make([]StreamStats, 0, len(s.streams))
	for _, ss := range s.streams {
		out = append(out, StreamStats{
			ID:            ss.id,
			Width:         ss.w,
			Height:        ss.h,
			Format:        ss.format,
			NumFrames:     ss.numFrames,
			NumCaptured:   ss.numCaptured,
			NumDropped:    ss.numDropped,
			CaptureTimeNS: ss.captureTimeNS,
		})
	}
	return out
}

func (s *Stage) fail(err error) error {
	if s.capturing.Load() {
		s.Stop()
	}
	if s.out != nil {
		s.out.CancelBuffer()
	}
	return err
}
