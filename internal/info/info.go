// Package info implements a probe consumer: it drains a packet buffer and
// prints a per-stream summary as messages arrive, the Go counterpart of
// glc's info consumer stage.
package info

import (
	"fmt"
	"io"
	"os"

	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/perr"
	"github.com/glcs-go/recorder/internal/state"
	"github.com/glcs-go/recorder/internal/wire"
)

// Level controls how much detail Printer emits per message; higher levels
// are strictly more verbose than lower ones, matching the source's
// integer verbosity levels.
type Level int

const (
	LevelSummary  Level = 1
	LevelDetailed Level = 2
	LevelFPS      Level = 3
	LevelAudio    Level = 4
	LevelVerbose  Level = 5
)

type videoStats struct {
	flags        wire.VideoFlags
	format       wire.PixelFormat
	w, h         uint32
	pictures     uint64
	bytes        uint64
	fps          uint64
	lastFPSTime  uint64
	fpsTime      uint64
}

type audioStats struct {
	packets uint64
	bytes   uint64
}

// Printer consumes a packet buffer and writes a running, then final,
// summary to w.
type Printer struct {
	w     io.Writer
	level Level

	time   uint64
	video  map[uint32]*videoStats
	videoOrder []uint32
	audio  map[uint32]*audioStats
	audioOrder []uint32
}

// NewPrinter returns a Printer writing to w (os.Stdout if nil) at the
// given verbosity level.
func NewPrinter(w io.Writer, level Level) *Printer {
	if w == nil {
		w = os.Stdout
	}
	if level < LevelSummary {
		level = LevelSummary
	}
	return &Printer{
		w:     w,
		level: level,
		video: make(map[uint32]*videoStats),
		audio: make(map[uint32]*audioStats),
	}
}

func (p *Printer) getVideo(id uint32) *videoStats {
	v, ok := p.video[id]
	if !ok {
		v = &videoStats{}
		p.video[id] = v
		p.videoOrder = append(p.videoOrder, id)
	}
	return v
}

func (p *Printer) getAudio(id uint32) *audioStats {
	a, ok := p.audio[id]
	if !ok {
		a = &audioStats{}
		p.audio[id] = a
		p.audioOrder = append(p.audioOrder, id)
	}
	return a
}

// Run drains buf until cancel fires or the buffer closes/cancels, printing
// as it goes, then prints the final per-stream summary.
func (p *Printer) Run(buf *pbuf.Buffer, cancel *state.Flag) error {
	for {
		if cancel != nil && cancel.Cancelled() {
			break
		}
		handle, err := buf.Open(pbuf.ModeRead)
		switch err {
		case nil:
		case perr.ErrCancelled, perr.ErrClosed:
			p.printTime()
			fmt.Fprintln(p.w, "end of stream")
			p.summary()
			return nil
		default:
			return err
		}

		data := handle.Bytes()
		p.dispatch(data)
		handle.Close()
	}
	p.summary()
	return nil
}

func (p *Printer) dispatch(data []byte) {
	hdr, err := wire.ParseHeader(data)
	if err != nil {
		p.printTime()
		fmt.Fprintf(p.w, "error: could not parse message header: %v\n", err)
		return
	}

	switch hdr.Type {
	case wire.MsgVideoFormat:
		m, err := wire.UnmarshalVideoFormat(data)
		if err == nil {
			p.videoFormat(m)
		}
	case wire.MsgVideoFrame:
		m, _, err := wire.UnmarshalVideoFrameHeader(data)
		if err == nil {
			p.videoFrame(m)
		}
	case wire.MsgAudioFormat:
		m, err := wire.UnmarshalAudioFormat(data)
		if err == nil {
			p.audioFormat(m)
		}
	case wire.MsgAudioData:
		m, _, err := wire.UnmarshalAudioDataHeader(data)
		if err == nil {
			p.audioData(m)
		}
	case wire.MsgColor:
		m, err := wire.UnmarshalColor(data)
		if err == nil {
			p.color(m)
		}
	case wire.MsgClose:
		p.printTime()
		fmt.Fprintln(p.w, "close message")
	default:
		p.printTime()
		fmt.Fprintf(p.w, "error: unknown message type 0x%02x\n", hdr.Type)
	}
}

func (p *Printer) videoFormat(m wire.VideoFormatMsg) {
	v := p.getVideo(m.ID)
	v.w, v.h, v.flags, v.format = m.Width, m.Height, m.Flags, m.Format

	p.printTime()
	if p.level >= LevelDetailed {
		fmt.Fprintln(p.w, "video stream format message")
		fmt.Fprintf(p.w, "  stream id   = %d\n", m.ID)
		fmt.Fprintf(p.w, "  format      = %s\n", formatName(m.Format))
		fmt.Fprintf(p.w, "  flags       = %s\n", videoFlagsName(m.Flags))
		fmt.Fprintf(p.w, "  width       = %d\n", m.Width)
		fmt.Fprintf(p.w, "  height      = %d\n", m.Height)
	} else {
		fmt.Fprintf(p.w, "video stream %d\n", m.ID)
	}
}

func (p *Printer) videoFrame(m wire.VideoFrameMsg) {
	p.time = m.Time
	v := p.getVideo(m.ID)

	if p.level >= LevelVerbose {
		p.printTime()
		fmt.Fprintln(p.w, "picture")
		fmt.Fprintf(p.w, "  stream id   = %d\n", m.ID)
		fmt.Fprintf(p.w, "  time        = %d\n", m.Time)
		fmt.Fprintf(p.w, "  size        = %dx%d\n", v.w, v.h)
	} else if p.level >= LevelFPS {
		p.printTime()
		fmt.Fprintf(p.w, "picture (video %d)\n", m.ID)
	}

	v.pictures++
	v.fps++

	switch v.format {
	case wire.PixBGR:
		v.bytes += uint64(v.w) * uint64(v.h) * 3
		if v.flags&wire.VideoDwordAligned != 0 && (v.w*3)%8 != 0 {
			v.bytes += uint64(v.h) * uint64(8-(v.w*3)%8)
		}
	case wire.PixBGRA:
		v.bytes += uint64(v.w) * uint64(v.h) * 4
		if v.flags&wire.VideoDwordAligned != 0 && (v.w*4)%8 != 0 {
			v.bytes += uint64(v.h) * uint64(8-(v.w*4)%8)
		}
	case wire.PixYCbCr420JPEG:
		v.bytes += uint64(v.w) * uint64(v.h) * 3 / 2
	}

	if p.level >= LevelFPS && m.Time-v.fpsTime >= 1_000_000_000 {
		p.printTime()
		elapsed := m.Time - v.lastFPSTime
		fps := float64(0)
		if elapsed > 0 {
			fps = float64(v.fps) * 1_000_000_000 / float64(elapsed)
		}
		fmt.Fprintf(p.w, "video %d: %.2f fps\n", m.ID, fps)
		v.lastFPSTime = m.Time
		v.fpsTime += 1_000_000_000
		v.fps = 0
	}
}

func (p *Printer) audioFormat(m wire.AudioFormatMsg) {
	p.printTime()
	if p.level >= LevelDetailed {
		fmt.Fprintln(p.w, "audio stream format message")
		fmt.Fprintf(p.w, "  stream id   = %d\n", m.ID)
		fmt.Fprintf(p.w, "  format      = 0x%02x\n", m.Format)
		fmt.Fprintf(p.w, "  flags       = %s\n", audioFlagsName(m.Flags))
		fmt.Fprintf(p.w, "  rate        = %d\n", m.Rate)
		fmt.Fprintf(p.w, "  channels    = %d\n", m.Channels)
	} else {
		fmt.Fprintf(p.w, "audio stream %d\n", m.ID)
	}
}

func (p *Printer) audioData(m wire.AudioDataMsg) {
	p.time = m.Time
	a := p.getAudio(m.ID)
	a.packets++
	a.bytes += m.Size

	if p.level >= LevelAudio+1 {
		p.printTime()
		fmt.Fprintln(p.w, "audio packet")
		fmt.Fprintf(p.w, "  stream id   = %d\n", m.ID)
		fmt.Fprintf(p.w, "  time        = %d\n", m.Time)
		fmt.Fprintf(p.w, "  size        = %d\n", m.Size)
	} else if p.level >= LevelAudio {
		p.printTime()
		fmt.Fprintf(p.w, "audio packet (stream %d)\n", m.ID)
	}
}

func (p *Printer) color(m wire.ColorMsg) {
	p.printTime()
	if p.level >= LevelDetailed {
		fmt.Fprintln(p.w, "color correction message")
		fmt.Fprintf(p.w, "  stream id   = %d\n", m.ID)
		fmt.Fprintf(p.w, "  brightness  = %f\n", m.Brightness)
		fmt.Fprintf(p.w, "  contrast    = %f\n", m.Contrast)
		fmt.Fprintf(p.w, "  red gamma   = %f\n", m.GammaR)
		fmt.Fprintf(p.w, "  green gamma = %f\n", m.GammaG)
		fmt.Fprintf(p.w, "  blue gamma  = %f\n", m.GammaB)
	} else {
		fmt.Fprintf(p.w, "color correction information for video %d\n", m.ID)
	}
}

func (p *Printer) summary() {
	seconds := float64(p.time) / 1_000_000_000.0

	for _, id := range p.videoOrder {
		v := p.video[id]
		fmt.Fprintf(p.w, "video stream %d\n", id)
		fmt.Fprintf(p.w, "  frames      = %d\n", v.pictures)
		if seconds > 0 {
			fmt.Fprintf(p.w, "  fps         = %.2f\n", float64(v.pictures)/seconds)
		}
		fmt.Fprintf(p.w, "  bytes       = %s\n", formatBytes(v.bytes))
		if seconds > 0 {
			fmt.Fprintf(p.w, "  bps         = %s\n", formatBytes(uint64(float64(v.bytes)/seconds)))
		}
	}

	for _, id := range p.audioOrder {
		a := p.audio[id]
		fmt.Fprintf(p.w, "audio stream %d\n", id)
		fmt.Fprintf(p.w, "  packets     = %d\n", a.packets)
		if seconds > 0 {
			fmt.Fprintf(p.w, "  pps         = %.2f\n", float64(a.packets)/seconds)
		}
		fmt.Fprintf(p.w, "  bytes       = %s\n", formatBytes(a.bytes))
		if seconds > 0 {
			fmt.Fprintf(p.w, "  bps         = %s\n", formatBytes(uint64(float64(a.bytes)/seconds)))
		}
	}
}

func (p *Printer) printTime() {
	fmt.Fprintf(p.w, "[%7.2fs] ", float64(p.time)/1_000_000_000.0)
}

func formatName(f wire.PixelFormat) string {
	switch f {
	case wire.PixBGR:
		return "BGR"
	case wire.PixBGRA:
		return "BGRA"
	case wire.PixYCbCr420JPEG:
		return "YCbCr420JPEG"
	default:
		return fmt.Sprintf("unknown format 0x%02x", f)
	}
}

func videoFlagsName(f wire.VideoFlags) string {
	if f&wire.VideoDwordAligned != 0 {
		return "VideoDwordAligned"
	}
	return ""
}

func audioFlagsName(f wire.AudioFlags) string {
	if f&wire.AudioInterleaved != 0 {
		return "AudioInterleaved"
	}
	return ""
}

func formatBytes(n uint64) string {
	const (
		kib = 1024
		mib = kib * 1024
		gib = mib * 1024
	)
	switch {
	case n >= gib:
		return fmt.Sprintf("%.2f GiB", float64(n)/gib)
	case n >= mib:
		return fmt.Sprintf("%.2f MiB", float64(n)/mib)
	case n >= kib:
		return fmt.Sprintf("%.2f KiB", float64(n)/kib)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
