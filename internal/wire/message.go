// Package wire defines the typed header and payload conventions shared by
// every pipeline stage: message kinds, stream descriptors and the
// fixed-layout headers that precede each payload in a packet buffer.
package wire

// MsgKind tags the payload that follows a Header in the packet buffer.
type MsgKind uint8

const (
	MsgUnknown MsgKind = iota
	MsgVideoFormat
	MsgVideoFrame
	MsgAudioFormat
	MsgAudioData
	MsgColor
	MsgClose
)

func (k MsgKind) String() string {
	switch k {
	case MsgVideoFormat:
		return "VideoFormat"
	case MsgVideoFrame:
		return "VideoFrame"
	case MsgAudioFormat:
		return "AudioFormat"
	case MsgAudioData:
		return "AudioData"
	case MsgColor:
		return "Color"
	case MsgClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// HeaderSize is the fixed size, in bytes, every stage assumes precedes a
// message payload in the buffer.
const HeaderSize = 8

// Header is the fixed-layout record every message in the buffer starts
// with. The reserved bytes keep it a stable size across all kinds so a
// reader can always peek the type before deciding how to decode the rest.
type Header struct {
	Type MsgKind
	_    [HeaderSize - 1]byte
}

// PixelFormat enumerates the video sample layouts a stream may carry.
type PixelFormat uint8

const (
	PixUnknown PixelFormat = iota
	PixBGR
	PixBGRA
	PixYCbCr420JPEG
)

// BytesPerPixel returns the packed sample size for formats with a fixed
// per-pixel stride. YCbCr 4:2:0 is planar/subsampled and has no single
// per-pixel byte count; callers must special-case it.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixBGRA:
		return 4
	case PixBGR:
		return 3
	default:
		return 0
	}
}

// AudioFormat enumerates the PCM sample encodings a stream may carry.
type AudioFormat uint8

const (
	AudioUnknown AudioFormat = iota
	AudioS16LE
	AudioS32LE
	AudioFloat32LE
)

// VideoFlags carries the sticky and transient bits attached to a video
// stream descriptor.
type VideoFlags uint32

const (
	// VideoDwordAligned marks a row stride padded to a multiple of 8.
	VideoDwordAligned VideoFlags = 1 << iota
	// VideoCapturing is a transient bit asserted for the duration of a
	// single frame() call on this stream.
	VideoCapturing
	// VideoNeedColorUpdate forces the next frame to emit a Color message
	// even if the sampled gamma is unchanged from the cached value.
	VideoNeedColorUpdate
)

// AudioFlags carries the bits attached to an audio stream descriptor.
type AudioFlags uint32

const (
	// AudioInterleaved marks multi-channel samples as interleaved rather
	// than planar.
	AudioInterleaved AudioFlags = 1 << iota
)

// VideoFormatMsg is the payload of a MsgVideoFormat message.
type VideoFormatMsg struct {
	ID     uint32
	Flags  VideoFlags
	Format PixelFormat
	Width  uint32
	Height uint32
}

// VideoFrameMsg is the fixed-size header preceding row*height pixel bytes
// of a MsgVideoFrame message.
type VideoFrameMsg struct {
	ID   uint32
	Time uint64 // nanoseconds, monotonic
}

// AudioFormatMsg is the payload of a MsgAudioFormat message.
type AudioFormatMsg struct {
	ID       uint32
	Flags    AudioFlags
	Rate     uint32
	Channels uint32
	Format   AudioFormat
}

// AudioDataMsg is the fixed-size header preceding Size PCM bytes of a
// MsgAudioData message.
type AudioDataMsg struct {
	ID   uint32
	Time uint64
	Size uint64
}

// ColorMsg is the payload of a MsgColor message: a snapshot of a video
// stream's color-correction state.
type ColorMsg struct {
	ID         uint32
	Brightness float32
	Contrast   float32
	GammaR     float32
	GammaG     float32
	GammaB     float32
}
