package glcapture

import (
	"testing"

	"github.com/glcs-go/recorder/internal/clock"
	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/perr"
	"github.com/glcs-go/recorder/internal/wire"
)

type fakeSurface struct {
	w, h          uint32
	gr, gg, gb    float32
	readErr       error
	reads         int
	lastRect      Rect
}

func (f *fakeSurface) Geometry() (uint32, uint32, error) { return f.w, f.h, nil }
func (f *fakeSurface) Gamma() (float32, float32, float32, error) {
	return f.gr, f.gg, f.gb, nil
}
func (f *fakeSurface) ReadPixels(rect Rect, format wire.PixelFormat, packAlignment int, dst []byte) error {
	f.reads++
	f.lastRect = rect
	if f.readErr != nil {
		return f.readErr
	}
	for i := range dst {
		dst[i] = 0xAB
	}
	return nil
}

func newTestStage(t *testing.T) (*Stage, *pbuf.Buffer, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake()
	fake.Set(1_000_000_000) // avoid the last==0 initial edge case
	s := New(fake)
	out := pbuf.New(1 << 20)
	if err := s.SetBuffer(out); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	return s, out, fake
}

func readMsg(t *testing.T, b *pbuf.Buffer) []byte {
	t.Helper()
	h, err := b.Open(pbuf.ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	data := append([]byte(nil), h.Bytes()...)
	h.Close()
	return data
}

func TestFrameFirstCallEmitsFormatThenFrame(t *testing.T) {
	s, out, _ := newTestStage(t)
	surf := &fakeSurface{w: 4, h: 2, gr: 1, gg: 1, gb: 1}

	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}

	hdr, err := wire.ParseHeader(readMsg(t, out))
	if err != nil || hdr.Type != wire.MsgVideoFormat {
		t.Fatalf("expected first message to be VideoFormat, got %+v err=%v", hdr, err)
	}
	hdr2, err := wire.ParseHeader(readMsg(t, out))
	if err != nil || hdr2.Type != wire.MsgVideoFrame {
		t.Fatalf("expected second message to be VideoFrame, got %+v err=%v", hdr2, err)
	}
}

func TestFrameSkipsUntilPeriodElapses(t *testing.T) {
	fake := clock.NewFake()
	// Start exactly one period in: the first frame moves last to 100ms, so
	// the next frame 1ms later is still inside the period.
	fake.Set(100_000_000)
	s := New(fake)
	out := pbuf.New(1 << 20)
	s.SetBuffer(out)
	s.SetFPS(10) // period = 100ms
	s.Start()

	surf := &fakeSurface{w: 2, h: 2, gr: 1, gg: 1, gb: 1}
	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	// drain format + frame
	readMsg(t, out)
	readMsg(t, out)

	fake.Advance(1_000_000) // 1ms, well under the 100ms period
	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	if _, err := out.Open(pbuf.ModeReadTry); err != perr.ErrBusy {
		t.Fatalf("expected no new message before the fps period elapsed, got err=%v", err)
	}
}

func TestFrameNotCapturingIsNoop(t *testing.T) {
	fake := clock.NewFake()
	s := New(fake)
	out := pbuf.New(1 << 20)
	s.SetBuffer(out)
	// Start not called.

	surf := &fakeSurface{w: 2, h: 2}
	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	if _, err := out.Open(pbuf.ModeReadTry); err != perr.ErrBusy {
		t.Fatalf("expected no message before Start, got err=%v", err)
	}
}

func TestFrameEmitsColorOnGammaChange(t *testing.T) {
	s, out, fake := newTestStage(t)
	surf := &fakeSurface{w: 2, h: 2, gr: 1, gg: 1, gb: 1}

	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	readMsg(t, out) // format
	readMsg(t, out) // frame

	fake.Advance(1_000_000_000) // guarantee the fps period has elapsed
	surf.gr = 1.4
	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}

	hdr, err := wire.ParseHeader(readMsg(t, out))
	if err != nil || hdr.Type != wire.MsgColor {
		t.Fatalf("expected a Color message after gamma changed, got %+v err=%v", hdr, err)
	}
}

func TestStopWaitsForInFlightFrame(t *testing.T) {
	s, _, _ := newTestStage(t)
	surf := &fakeSurface{w: 2, h: 2, gr: 1, gg: 1, gb: 1}

	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	ss := s.getStream(surf)
	if ss.capturing.Load() {
		t.Fatal("expected Stop to observe the stream's barrier bit cleared")
	}
	if ss.last != 0 {
		t.Fatal("expected Stop to reset the stream's rate-gate clock")
	}
}

func TestFrameLockFPSSleepsRemainingPeriod(t *testing.T) {
	fake := clock.NewFake() // starts at 0, so ss.last tracks the clock exactly
	s := New(fake)
	out := pbuf.New(1 << 20)
	s.SetBuffer(out)
	s.SetFPS(10) // period = 100ms
	s.SetLockFPS(true)
	s.Start()

	surf := &fakeSurface{w: 2, h: 2, gr: 1, gg: 1, gb: 1}

	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	readMsg(t, out) // format
	readMsg(t, out) // frame

	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	readMsg(t, out) // frame

	sleeps := fake.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("expected two lock-fps sleeps, got %v", sleeps)
	}
	for _, ns := range sleeps {
		if ns != 100_000_000 {
			t.Fatalf("expected each sleep to cover the full 100ms period, got %d", ns)
		}
	}
}

func TestFrameNoLockFPSDoesNotSleep(t *testing.T) {
	s, out, fake := newTestStage(t)
	surf := &fakeSurface{w: 2, h: 2, gr: 1, gg: 1, gb: 1}

	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	readMsg(t, out)
	readMsg(t, out)

	if len(fake.Sleeps()) != 0 {
		t.Fatalf("expected no sleeps without SetLockFPS, got %v", fake.Sleeps())
	}
}

func TestFrameDropsOnFullBufferAndCounts(t *testing.T) {
	fake := clock.NewFake()
	fake.Set(1_000_000_000)
	s := New(fake)
	// Small enough that a single filler write occupies the whole buffer,
	// but big enough for the first frame's format+frame messages.
	out := pbuf.New(128)
	if err := s.SetBuffer(out); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	surf := &fakeSurface{w: 2, h: 2, gr: 1, gg: 1, gb: 1}

	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	readMsg(t, out) // format
	readMsg(t, out) // frame

	fake.Advance(1_000_000_000) // clear the rate gate without changing geometry/gamma

	// Fill the buffer to capacity with a committed, unread message so the
	// next frame's SetSize has no room left and returns ErrBusy.
	filler, err := out.Open(pbuf.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := filler.SetSize(128); err != nil {
		t.Fatal(err)
	}
	if err := filler.Close(); err != nil {
		t.Fatal(err)
	}

	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}

	ss := s.getStream(surf)
	if ss.numDropped != 1 {
		t.Fatalf("expected one dropped frame, got %d", ss.numDropped)
	}
}

func TestCropClampsToSurfaceBounds(t *testing.T) {
	s, out, _ := newTestStage(t)
	s.SetCrop(50, 50, 100, 100) // larger than the 10x10 surface
	surf := &fakeSurface{w: 10, h: 10, gr: 1, gg: 1, gb: 1}

	if err := s.Frame(surf); err != nil {
		t.Fatal(err)
	}
	readMsg(t, out) // format
	readMsg(t, out) // frame

	if surf.lastRect.W > 10 || surf.lastRect.H > 10 {
		t.Fatalf("expected crop clamped to surface bounds, got %+v", surf.lastRect)
	}
}
