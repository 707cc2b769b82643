package wire

import (
	"encoding/binary"
	"math"

	"github.com/glcs-go/recorder/internal/perr"
)

// Fixed wire sizes for each payload's non-variable part. Every field is
// packed little-endian into a fixed slot, 8 bytes for the 64-bit Time and
// Size fields and 4 bytes for everything else regardless of its Go width,
// so layout never depends on struct padding.
const (
	videoFormatWireSize = 4 * 5   // ID, Flags, Format, Width, Height
	videoFrameWireSize  = 4 + 8   // ID, Time
	audioFormatWireSize = 4 * 5   // ID, Flags, Rate, Channels, Format
	audioDataWireSize   = 4 + 8*2 // ID, Time, Size
	colorWireSize       = 4 + 4*5 // ID, Brightness, Contrast, GammaR, GammaG, GammaB
)

// PutHeader writes kind into the first byte of a buffer at least
// HeaderSize long. The remaining reserved bytes are left zeroed.
func PutHeader(dst []byte, kind MsgKind) {
	dst[0] = byte(kind)
}

// ParseHeader reads the message kind from the front of a buffer.
func ParseHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, perr.ErrInvalidArgument
	}
	return Header{Type: MsgKind(src[0])}, nil
}

// MarshalVideoFormat encodes header + fixed fields; the caller appends no
// further payload for this message kind.
func MarshalVideoFormat(m VideoFormatMsg) []byte {
	buf := make([]byte, HeaderSize+videoFormatWireSize)
	PutHeader(buf, MsgVideoFormat)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], m.ID)
	binary.LittleEndian.PutUint32(p[4:8], uint32(m.Flags))
	binary.LittleEndian.PutUint32(p[8:12], uint32(m.Format))
	binary.LittleEndian.PutUint32(p[12:16], m.Width)
	binary.LittleEndian.PutUint32(p[16:20], m.Height)
	return buf
}

// UnmarshalVideoFormat decodes a MsgVideoFormat payload following the
// header (src must start at the header, not the payload).
func UnmarshalVideoFormat(src []byte) (VideoFormatMsg, error) {
	if len(src) < HeaderSize+videoFormatWireSize {
		return VideoFormatMsg{}, perr.ErrInvalidArgument
	}
	p := src[HeaderSize:]
	return VideoFormatMsg{
		ID:     binary.LittleEndian.Uint32(p[0:4]),
		Flags:  VideoFlags(binary.LittleEndian.Uint32(p[4:8])),
		Format: PixelFormat(binary.LittleEndian.Uint32(p[8:12])),
		Width:  binary.LittleEndian.Uint32(p[12:16]),
		Height: binary.LittleEndian.Uint32(p[16:20]),
	}, nil
}

// MarshalVideoFrameHeader encodes header + fixed fields of a MsgVideoFrame
// message; the caller appends row*height pixel bytes after this prefix.
func MarshalVideoFrameHeader(m VideoFrameMsg) []byte {
	buf := make([]byte, HeaderSize+videoFrameWireSize)
	PutHeader(buf, MsgVideoFrame)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], m.ID)
	binary.LittleEndian.PutUint64(p[4:12], m.Time)
	return buf
}

// UnmarshalVideoFrameHeader decodes the fixed prefix of a MsgVideoFrame
// message and returns the offset at which pixel data begins.
func UnmarshalVideoFrameHeader(src []byte) (VideoFrameMsg, int, error) {
	if len(src) < HeaderSize+videoFrameWireSize {
		return VideoFrameMsg{}, 0, perr.ErrInvalidArgument
	}
	p := src[HeaderSize:]
	m := VideoFrameMsg{
		ID:   binary.LittleEndian.Uint32(p[0:4]),
		Time: binary.LittleEndian.Uint64(p[4:12]),
	}
	return m, HeaderSize + videoFrameWireSize, nil
}

// MarshalAudioFormat encodes header + fixed fields of a MsgAudioFormat.
func MarshalAudioFormat(m AudioFormatMsg) []byte {
	buf := make([]byte, HeaderSize+audioFormatWireSize)
	PutHeader(buf, MsgAudioFormat)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], m.ID)
	binary.LittleEndian.PutUint32(p[4:8], uint32(m.Flags))
	binary.LittleEndian.PutUint32(p[8:12], m.Rate)
	binary.LittleEndian.PutUint32(p[12:16], m.Channels)
	binary.LittleEndian.PutUint32(p[16:20], uint32(m.Format))
	return buf
}

// UnmarshalAudioFormat decodes a MsgAudioFormat payload.
func UnmarshalAudioFormat(src []byte) (AudioFormatMsg, error) {
	if len(src) < HeaderSize+audioFormatWireSize {
		return AudioFormatMsg{}, perr.ErrInvalidArgument
	}
	p := src[HeaderSize:]
	return AudioFormatMsg{
		ID:       binary.LittleEndian.Uint32(p[0:4]),
		Flags:    AudioFlags(binary.LittleEndian.Uint32(p[4:8])),
		Rate:     binary.LittleEndian.Uint32(p[8:12]),
		Channels: binary.LittleEndian.Uint32(p[12:16]),
		Format:   AudioFormat(binary.LittleEndian.Uint32(p[16:20])),
	}, nil
}

// MarshalAudioDataHeader encodes header + fixed fields of a MsgAudioData
// message; the caller appends m.Size PCM bytes after this prefix.
func MarshalAudioDataHeader(m AudioDataMsg) []byte {
	buf := make([]byte, HeaderSize+audioDataWireSize)
	PutHeader(buf, MsgAudioData)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], m.ID)
	binary.LittleEndian.PutUint64(p[4:12], m.Time)
	binary.LittleEndian.PutUint64(p[12:20], m.Size)
	return buf
}

// UnmarshalAudioDataHeader decodes the fixed prefix of a MsgAudioData
// message and returns the offset at which PCM data begins.
func UnmarshalAudioDataHeader(src []byte) (AudioDataMsg, int, error) {
	if len(src) < HeaderSize+audioDataWireSize {
		return AudioDataMsg{}, 0, perr.ErrInvalidArgument
	}
	p := src[HeaderSize:]
	m := AudioDataMsg{
		ID:   binary.LittleEndian.Uint32(p[0:4]),
		Time: binary.LittleEndian.Uint64(p[4:12]),
		Size: binary.LittleEndian.Uint64(p[12:20]),
	}
	return m, HeaderSize + audioDataWireSize, nil
}

// MarshalColor encodes header + fields of a MsgColor message.
func MarshalColor(m ColorMsg) []byte {
	buf := make([]byte, HeaderSize+colorWireSize)
	PutHeader(buf, MsgColor)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], m.ID)
	binary.LittleEndian.PutUint32(p[4:8], math.Float32bits(m.Brightness))
	binary.LittleEndian.PutUint32(p[8:12], math.Float32bits(m.Contrast))
	binary.LittleEndian.PutUint32(p[12:16], math.Float32bits(m.GammaR))
	binary.LittleEndian.PutUint32(p[16:20], math.Float32bits(m.GammaG))
	binary.LittleEndian.PutUint32(p[20:24], math.Float32bits(m.GammaB))
	return buf
}

// UnmarshalColor decodes a MsgColor payload.
func UnmarshalColor(src []byte) (ColorMsg, error) {
	if len(src) < HeaderSize+colorWireSize {
		return ColorMsg{}, perr.ErrInvalidArgument
	}
	p := src[HeaderSize:]
	return ColorMsg{
		ID:         binary.LittleEndian.Uint32(p[0:4]),
		Brightness: math.Float32frombits(binary.LittleEndian.Uint32(p[4:8])),
		Contrast:   math.Float32frombits(binary.LittleEndian.Uint32(p[8:12])),
		GammaR:     math.Float32frombits(binary.LittleEndian.Uint32(p[12:16])),
		GammaG:     math.Float32frombits(binary.LittleEndian.Uint32(p[16:20])),
		GammaB:     math.Float32frombits(binary.LittleEndian.Uint32(p[20:24])),
	}, nil
}
