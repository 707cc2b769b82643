package scale

import (
	"testing"

	"github.com/glcs-go/recorder/internal/runner"
	"github.com/glcs-go/recorder/internal/wire"
)

func TestBuildResampleTableWeightsSumToOne(t *testing.T) {
	ctx := &streamCtx{w: 8, h: 8, sw: 5, sh: 5, bpp: 3, row: 8 * 3}
	buildResampleTable(ctx)

	for i, s := range ctx.samples {
		var sum float32
		for _, sample := range s {
			sum += sample.weight
		}
		if sum < 0.999 || sum > 1.001 {
			t.Fatalf("sample %d: weights sum to %f, want ~1.0", i, sum)
		}
	}
}

func TestBuildResampleTableStaysInBounds(t *testing.T) {
	ctx := &streamCtx{w: 10, h: 6, sw: 7, sh: 4, bpp: 3, row: 10 * 3}
	buildResampleTable(ctx)

	maxValid := uint32(ctx.h-1)*ctx.row + uint32(ctx.w-1)*ctx.bpp + 2
	for i, s := range ctx.samples {
		for _, sample := range s {
			if sample.pos > maxValid {
				t.Fatalf("sample %d: source offset %d exceeds source image bounds %d", i, sample.pos, maxValid)
			}
		}
	}
}

func TestResampleBGRAIdentityDropsAlpha(t *testing.T) {
	ctx := &streamCtx{w: 2, h: 1, sw: 2, sh: 1, bpp: 4, row: 2 * 4}
	from := []byte{
		10, 20, 30, 255,
		40, 50, 60, 128,
	}
	to := make([]byte, 2*3)
	resample(ctx, from, to)

	want := []byte{10, 20, 30, 40, 50, 60}
	for i := range want {
		if to[i] != want[i] {
			t.Fatalf("byte %d: got %d, want %d", i, to[i], want[i])
		}
	}
}

func TestResampleBoxHalfAverages(t *testing.T) {
	ctx := &streamCtx{w: 2, h: 2, sw: 1, sh: 1, bpp: 3, row: 2 * 3}
	from := []byte{
		0, 0, 0, 4, 4, 4,
		8, 8, 8, 12, 12, 12,
	}
	to := make([]byte, 3)
	resample(ctx, from, to)

	// (0+4+8+12)/4 = 6, truncated by right-shift-by-2 not by rounding.
	for i, v := range to {
		if v != 6 {
			t.Fatalf("channel %d: got %d, want 6", i, v)
		}
	}
}

func TestHandleFormatPassThroughAtUnitScale(t *testing.T) {
	s := New(1.0)
	m := wire.VideoFormatMsg{ID: 1, Format: wire.PixBGR, Width: 100, Height: 50}
	buf := wire.MarshalVideoFormat(m)

	st := &runner.State{ReadData: buf}
	if err := s.handleFormat(st); err != nil {
		t.Fatal(err)
	}
	if st.Flags&runner.FlagCopy == 0 {
		t.Fatal("expected FlagCopy for unit-scale BGR pass-through")
	}
	ctx := s.getCtx(1)
	if ctx.process {
		t.Fatal("expected process=false for pass-through stream")
	}
}

func TestHandleFormatBGRARequiresConversion(t *testing.T) {
	s := New(1.0)
	m := wire.VideoFormatMsg{ID: 1, Format: wire.PixBGRA, Width: 4, Height: 4}
	buf := wire.MarshalVideoFormat(m)

	st := &runner.State{ReadData: buf}
	if err := s.handleFormat(st); err != nil {
		t.Fatal(err)
	}
	if st.Flags&runner.FlagCopy != 0 {
		t.Fatal("BGRA source must not take the verbatim-copy path even at scale 1")
	}
	ctx := s.getCtx(1)
	if !ctx.process {
		t.Fatal("expected process=true for BGRA source")
	}
}
