package tracker

import (
	"testing"

	"github.com/glcs-go/recorder/internal/wire"
)

type replayed struct {
	kind wire.MsgKind
	id   uint32
}

func TestTrackerReplayOrder(t *testing.T) {
	tr := New()
	tr.SubmitVideoFormat(wire.VideoFormatMsg{ID: 1, Width: 640, Height: 480})
	tr.SubmitColor(wire.ColorMsg{ID: 1})
	tr.SubmitAudioFormat(wire.AudioFormatMsg{ID: 2, Rate: 44100})

	var got []replayed
	if err := tr.Iterate(func(kind wire.MsgKind, id uint32, _ any) error {
		got = append(got, replayed{kind, id})
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	want := []replayed{
		{wire.MsgVideoFormat, 1},
		{wire.MsgColor, 1},
		{wire.MsgAudioFormat, 2},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d callbacks, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("callback %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestTrackerIdempotentSubmit(t *testing.T) {
	tr := New()
	m := wire.VideoFormatMsg{ID: 1, Width: 640, Height: 480}
	tr.SubmitVideoFormat(m)
	tr.SubmitVideoFormat(m)
	tr.SubmitVideoFormat(m)

	var count int
	tr.Iterate(func(kind wire.MsgKind, id uint32, _ any) error {
		count++
		return nil
	})
	if count != 1 {
		t.Fatalf("expected exactly one callback after repeated identical submits, got %d", count)
	}
}

func TestTrackerLatestFormatWins(t *testing.T) {
	tr := New()
	tr.SubmitVideoFormat(wire.VideoFormatMsg{ID: 1, Width: 640, Height: 480})
	tr.SubmitVideoFormat(wire.VideoFormatMsg{ID: 1, Width: 1920, Height: 1080})

	var got wire.VideoFormatMsg
	tr.Iterate(func(kind wire.MsgKind, id uint32, payload any) error {
		if kind == wire.MsgVideoFormat {
			got = payload.(wire.VideoFormatMsg)
		}
		return nil
	})
	if got.Width != 1920 || got.Height != 1080 {
		t.Fatalf("expected latest format to win, got %+v", got)
	}
}

func TestTrackerNoColorNoCallback(t *testing.T) {
	tr := New()
	tr.SubmitVideoFormat(wire.VideoFormatMsg{ID: 1})

	var kinds []wire.MsgKind
	tr.Iterate(func(kind wire.MsgKind, id uint32, _ any) error {
		kinds = append(kinds, kind)
		return nil
	})
	if len(kinds) != 1 || kinds[0] != wire.MsgVideoFormat {
		t.Fatalf("expected only a VideoFormat callback, got %v", kinds)
	}
}

func TestTrackerIterateStopsOnError(t *testing.T) {
	tr := New()
	tr.SubmitVideoFormat(wire.VideoFormatMsg{ID: 1})
	tr.SubmitColor(wire.ColorMsg{ID: 1})
	tr.SubmitAudioFormat(wire.AudioFormatMsg{ID: 2})

	calls := 0
	err := tr.Iterate(func(kind wire.MsgKind, id uint32, _ any) error {
		calls++
		if kind == wire.MsgColor {
			return errStop
		}
		return nil
	})
	if err != errStop {
		t.Fatalf("expected errStop propagated, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected iteration to stop after 2 callbacks, got %d", calls)
	}
}

var errStop = &stopError{}

type stopError struct{}

func (*stopError) Error() string { return "stop" }

func TestTrackerVideoAndAudioIndependentNamespaces(t *testing.T) {
	tr := New()
	tr.SubmitVideoFormat(wire.VideoFormatMsg{ID: 1, Width: 100})
	tr.SubmitAudioFormat(wire.AudioFormatMsg{ID: 1, Rate: 48000})

	var video, audio bool
	tr.Iterate(func(kind wire.MsgKind, id uint32, payload any) error {
		switch kind {
		case wire.MsgVideoFormat:
			video = true
		case wire.MsgAudioFormat:
			audio = true
		}
		return nil
	})
	if !video || !audio {
		t.Fatalf("expected both a video stream 1 and an audio stream 1 to be tracked independently, video=%v audio=%v", video, audio)
	}
}
