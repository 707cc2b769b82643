// Package tracker implements the stream-state tracker: an append-mostly
// table that records the last known format and color-correction message
// per stream and replays them to late-joining consumers so they can
// reconstruct enough context to decode without waiting for the source to
// re-emit its configuration.
package tracker

import (
	"sync"

	"github.com/glcs-go/recorder/internal/wire"
)

type videoPresence uint8

const (
	hasVideoFormat videoPresence = 1 << iota
	hasColor
)

type videoEntry struct {
	present videoPresence
	format  wire.VideoFormatMsg
	color   wire.ColorMsg
}

type audioEntry struct {
	present bool
	format  wire.AudioFormatMsg
}

// Tracker is safe for concurrent Submit/Iterate calls. Video and audio
// streams are tracked in independent namespaces, mirroring the source:
// a video stream and an audio stream may share the same numeric id
// without colliding.
type Tracker struct {
	mu sync.RWMutex

	video      map[uint32]*videoEntry
	videoOrder []uint32

	audio      map[uint32]*audioEntry
	audioOrder []uint32
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		video: make(map[uint32]*videoEntry),
		audio: make(map[uint32]*audioEntry),
	}
}

func (t *Tracker) getVideo(id uint32) *videoEntry {
	e, ok := t.video[id]
	if !ok {
		e = &videoEntry{}
		t.video[id] = e
		t.videoOrder = append(t.videoOrder, id)
	}
	return e
}

func (t *Tracker) getAudio(id uint32) *audioEntry {
	e, ok := t.audio[id]
	if !ok {
		e = &audioEntry{}
		t.audio[id] = e
		t.audioOrder = append(t.audioOrder, id)
	}
	return e
}

// SubmitVideoFormat records the latest VideoFormat for a video stream.
func (t *Tracker) SubmitVideoFormat(m wire.VideoFormatMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getVideo(m.ID)
	e.format = m
	e.present |= hasVideoFormat
}

// SubmitColor records the latest Color message for a video stream.
func (t *Tracker) SubmitColor(m wire.ColorMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getVideo(m.ID)
	e.color = m
	e.present |= hasColor
}

// SubmitAudioFormat records the latest AudioFormat for an audio stream.
func (t *Tracker) SubmitAudioFormat(m wire.AudioFormatMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getAudio(m.ID)
	e.format = m
	e.present = true
}

// Callback receives one replayed message per Iterate call. Returning a
// non-nil error stops the replay early and propagates to the caller.
type Callback func(kind wire.MsgKind, id uint32, payload any) error

// Iterate replays every known video stream (format, then color, if
// present) followed by every known audio stream (format, if present).
// Replay is idempotent: repeated Iterate calls with no intervening
// Submit yield identical sequences, and Submit of the same message twice
// changes nothing beyond the first call.
func (t *Tracker) Iterate(cb Callback) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, id := range t.videoOrder {
		e := t.video[id]
		if e.present&hasVideoFormat != 0 {
			if err := cb(wire.MsgVideoFormat, id, e.format); err != nil {
				return err
			}
		}
		if e.present&hasColor != 0 {
			if err := cb(wire.MsgColor, id, e.color); err != nil {
				return err
			}
		}
	}

	for _, id := range t.audioOrder {
		e := t.audio[id]
		if e.present {
			if err := cb(wire.MsgAudioFormat, id, e.format); err != nil {
				return err
			}
		}
	}
	return nil
}
