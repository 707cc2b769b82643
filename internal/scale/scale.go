// Package scale implements the software resampler stage: it consumes
// VideoFormat/VideoFrame messages from one packet buffer, bilinearly
// resamples frames that need it, converts BGRA and BGR streams to packed
// BGR, and republishes to an output buffer, leaving streams in other pixel
// formats and every other message kind untouched.
package scale

import (
	"sync"
	"sync/atomic"

	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/perr"
	"github.com/glcs-go/recorder/internal/runner"
	"github.com/glcs-go/recorder/internal/state"
	"github.com/glcs-go/recorder/internal/wire"
)

// Stage resamples video frames according to a fixed scale factor applied
// uniformly to every stream it observes.
type Stage struct {
	factor  float64
	streams sync.Mutex
	byID    map[uint32]*streamCtx

	threads int
	in, out *pbuf.Buffer
	cancel  *state.Flag
	runner  *runner.Runner
}

// weightSample is one of the four source pixels contributing to a
// destination pixel under general bilinear resampling.
type weightSample struct {
	pos    uint32
	weight float32
}

type streamCtx struct {
	update sync.RWMutex // guards format/table fields below during a frame

	flags  wire.VideoFlags
	format wire.PixelFormat
	w, h   uint32
	sw, sh uint32
	bpp    uint32
	row    uint32
	process bool

	// samples[dstPixel] holds the four weighted source contributions for
	// general bilinear resampling; nil when scale is 1 (BGRA->BGR only),
	// 0.5 (box filter), or pass-through.
	samples [][4]weightSample

	processed atomic.Uint64
}

// New returns a Stage that resamples every stream by factor (1.0 leaves
// dimensions unchanged but still normalizes BGRA to BGR).
func New(factor float64) *Stage {
	return &Stage{
		factor: factor,
		byID:   make(map[uint32]*streamCtx),
	}
}

// SetPipeline assigns the worker count and the buffers Start will wire the
// stage's runner between. It may be called exactly once, before Start.
func (s *Stage) SetPipeline(threads int, in, out *pbuf.Buffer, cancel *state.Flag) error {
	if s.runner != nil {
		return perr.ErrAlreadyRunning
	}
	s.threads, s.in, s.out, s.cancel = threads, in, out, cancel
	return nil
}

// Init satisfies stage.Stage; SetPipeline does all the necessary setup, so
// there is nothing further to prepare.
func (s *Stage) Init() error { return nil }

// Start spawns the stage's worker pool reading from the configured input
// buffer and writing to the configured output buffer.
func (s *Stage) Start() error {
	if s.in == nil || s.out == nil {
		return perr.ErrNotReady
	}
	if s.runner != nil {
		return perr.ErrAlreadyRunning
	}
	s.runner = runner.Start(runner.Config{
		Threads: s.threads,
		In:      s.in,
		Out:     s.out,
		Cancel:  s.cancel,
		Read:    s.read,
		Write:   s.write,
	})
	return nil
}

// Stop blocks until every worker of the stage has exited.
func (s *Stage) Stop() error {
	if s.runner != nil {
		s.runner.Wait()
		s.runner = nil
	}
	return nil
}

// Destroy satisfies stage.Stage: it stops the stage (idempotently) and
// drops its per-stream table.
func (s *Stage) Destroy() error {
	s.Stop()
	s.streams.Lock()
	s.byID = make(map[uint32]*streamCtx)
	s.streams.Unlock()
	return nil
}

// Name satisfies stage.Stage.
func (s *Stage) Name() string { return "scale" }

// IsRunning satisfies stage.Stage.
func (s *Stage) IsRunning() bool { return s.runner != nil }

// StreamStats is a point-in-time snapshot of one stream's resampling
// counters, exposed for health/monitoring endpoints.
type StreamStats struct {
	ID              uint32
	SrcW, SrcH      uint32
	DstW, DstH      uint32
	FramesProcessed uint64
}

// StreamStats returns a snapshot of every stream the stage has seen a
// VideoFormat message for.
func (s *Stage) StreamStats() []StreamStats {
	s.streams.Lock()
	defer s.streams.Unlock()
	out := make([]StreamStats, 0, len(s.byID))
	for id, ctx := range s.byID {
		out = append(out, StreamStats{
			ID:              id,
			SrcW:            ctx.w,
			SrcH:            ctx.h,
			DstW:            ctx.sw,
			DstH:            ctx.sh,
			FramesProcessed: ctx.processed.Load(),
		})
	}
	return out
}

func (s *Stage) getCtx(id uint32) *streamCtx {
	s.streams.Lock()
	defer s.streams.Unlock()
	ctx, ok := s.byID[id]
	if !ok {
		ctx = &streamCtx{}
		s.byID[id] = ctx
	}
	return ctx
}

func (s *Stage) read(st *runner.State) error {
	hdr, err := wire.ParseHeader(st.ReadData)
	if err != nil {
		st.Flags |= runner.FlagCopy
		return nil
	}

	switch hdr.Type {
	case wire.MsgVideoFormat:
		return s.handleFormat(st)
	case wire.MsgVideoFrame:
		return s.handleFrame(st)
	default:
		st.Flags |= runner.FlagCopy
		return nil
	}
}

func (s *Stage) handleFormat(st *runner.State) error {
	m, err := wire.UnmarshalVideoFormat(st.ReadData)
	if err != nil {
		return err
	}
	ctx := s.getCtx(m.ID)

	ctx.update.Lock()
	defer ctx.update.Unlock()

	ctx.flags = m.Flags
	ctx.w, ctx.h = m.Width, m.Height

	if m.Format == wire.PixBGRA {
		ctx.format = wire.PixBGR
		ctx.bpp = 4
	} else if s.factor == 1 && m.Format == wire.PixBGR {
		// Nothing to do: pass through unchanged, no scale map needed.
		ctx.sw, ctx.sh = ctx.w, ctx.h
		ctx.process = false
		st.Flags |= runner.FlagCopy
		return nil
	} else if m.Format == wire.PixBGR {
		ctx.bpp = 3
	} else {
		// Formats without a fixed per-pixel stride (e.g. planar YCbCr)
		// are not resampled; pass them through untouched.
		ctx.process = false
		st.Flags |= runner.FlagCopy
		return nil
	}

	ctx.process = true
	ctx.sw = uint32(s.factor * float64(ctx.w))
	ctx.sh = uint32(s.factor * float64(ctx.h))
	ctx.row = ctx.w * ctx.bpp

	if m.Flags&wire.VideoDwordAligned != 0 {
		if ctx.row%8 != 0 {
			ctx.row += 8 - ctx.row%8
		}
	}

	out := m
	out.Format = wire.PixBGR
	out.Width = ctx.sw
	out.Height = ctx.sh
	out.Flags = m.Flags &^ wire.VideoDwordAligned

	if s.factor == 0.5 || s.factor == 1.0 {
		ctx.samples = nil
	} else {
		buildResampleTable(ctx)
	}

	encoded := wire.MarshalVideoFormat(out)
	st.WriteSize = len(encoded)
	st.ThreadPtr = encoded
	return nil
}

// frameJob carries the per-message context a ReadCallback resolves
// through to the matching WriteCallback: the resample table snapshot plus
// the frame metadata that must survive into the re-encoded header.
type frameJob struct {
	ctx  *streamCtx
	id   uint32
	time uint64
}

func (s *Stage) handleFrame(st *runner.State) error {
	m, pixOff, err := wire.UnmarshalVideoFrameHeader(st.ReadData)
	if err != nil {
		return err
	}
	ctx := s.getCtx(m.ID)

	ctx.update.RLock()
	if !ctx.process {
		ctx.update.RUnlock()
		st.Flags |= runner.FlagCopy
		return nil
	}

	ctx.processed.Add(1)
	st.ThreadPtr = &frameJob{ctx: ctx, id: m.ID, time: m.Time}
	st.WriteSize = wire.HeaderSize + 4 + 8 + int(ctx.sw*ctx.sh*3)
	st.ReadData = st.ReadData[pixOff:]
	return nil
}

func (s *Stage) write(st *runner.State) error {
	switch tp := st.ThreadPtr.(type) {
	case []byte:
		// A VideoFormat write: the pre-encoded header was computed in the
		// read phase, nothing left to append.
		_, err := st.WriteBytes(tp)
		return err

	case *frameJob:
		defer tp.ctx.update.RUnlock()

		frameHdr := wire.MarshalVideoFrameHeader(wire.VideoFrameMsg{ID: tp.id, Time: tp.time})
		if _, err := st.WriteBytes(frameHdr); err != nil {
			return err
		}
		dst, err := st.DMA(int(tp.ctx.sw*tp.ctx.sh*3), 0)
		if err != nil {
			return err
		}
		resample(tp.ctx, st.ReadData, dst)
		return nil

	default:
		return perr.ErrInvalidArgument
	}
}

// resample dispatches to the fast paths (identity BGRA->BGR conversion,
// half-scale box filter) or the general bilinear weighted sum, matching
// the source pixel layout described by ctx.
func resample(ctx *streamCtx, from, to []byte) {
	sw3 := ctx.sw * 3

	switch {
	case ctx.samples == nil && ctx.bpp == 4 && ctx.sw == ctx.w && ctx.sh == ctx.h:
		resampleBGRAIdentity(ctx, from, to, sw3)
	case ctx.samples == nil:
		resampleBoxHalf(ctx, from, to, sw3)
	default:
		resampleBilinear(ctx, from, to)
	}
}

func resampleBGRAIdentity(ctx *streamCtx, from, to []byte, sw3 uint32) {
	var ox, oy uint32
	for y := uint32(0); y < ctx.sh*3; y += 3 {
		for x := uint32(0); x < sw3; x += 3 {
			tp := x + y*ctx.sw
			op := ox + oy*ctx.row
			to[tp+0] = from[op+0]
			to[tp+1] = from[op+1]
			to[tp+2] = from[op+2]
			ox += ctx.bpp
		}
		oy++
		ox = 0
	}
}

func resampleBoxHalf(ctx *streamCtx, from, to []byte, sw3 uint32) {
	var ox, oy uint32
	for y := uint32(0); y < ctx.sh*3; y += 3 {
		for x := uint32(0); x < sw3; x += 3 {
			tp := x + y*ctx.sw
			op1 := ox + oy*ctx.row
			op2 := ox + ctx.bpp + oy*ctx.row
			op3 := ox + (oy+1)*ctx.row
			op4 := ox + ctx.bpp + (oy+1)*ctx.row
			ox += 2 * ctx.bpp

			to[tp+0] = byte((uint32(from[op1+0]) + uint32(from[op2+0]) + uint32(from[op3+0]) + uint32(from[op4+0])) >> 2)
			to[tp+1] = byte((uint32(from[op1+1]) + uint32(from[op2+1]) + uint32(from[op3+1]) + uint32(from[op4+1])) >> 2)
			to[tp+2] = byte((uint32(from[op1+2]) + uint32(from[op2+2]) + uint32(from[op3+2]) + uint32(from[op4+2])) >> 2)
		}
		oy += 2
		ox = 0
	}
}

func resampleBilinear(ctx *streamCtx, from, to []byte) {
	for y := uint32(0); y < ctx.sh; y++ {
		for x := uint32(0); x < ctx.sw; x++ {
			idx := x + y*ctx.sw
			tp := idx * 3
			s := ctx.samples[idx]

			var c0, c1, c2 float32
			for _, sample := range s {
				c0 += float32(from[sample.pos+0]) * sample.weight
				c1 += float32(from[sample.pos+1]) * sample.weight
				c2 += float32(from[sample.pos+2]) * sample.weight
			}
			to[tp+0] = byte(c0)
			to[tp+1] = byte(c1)
			to[tp+2] = byte(c2)
		}
	}
}

// buildResampleTable precomputes, for every destination pixel, the four
// source pixel offsets and bilinear weights that contribute to it. d is
// found by the smallest step that keeps every sample position within the
// source image: the search keeps shrinking d while either the vertical or
// the horizontal bound is exceeded, and stops at the first d that
// satisfies both.
func buildResampleTable(ctx *streamCtx) {
	var d float32
	for r := uint32(0); ; r++ {
		d = float32(ctx.w-r) / float32(ctx.sw)
		if !(d*float32(ctx.sh-1)+1.0 > float32(ctx.h) || d*float32(ctx.sw-1)+1.0 > float32(ctx.w)) {
			break
		}
	}

	ctx.samples = make([][4]weightSample, ctx.sw*ctx.sh)

	var ofy float32
	for y := uint32(0); y < ctx.sh; y++ {
		var ofx float32
		for x := uint32(0); x < ctx.sw; x++ {
			ix, iy := uint32(ofx), uint32(ofy)

			// ix+1/iy+1 can land exactly on w/h when d*(n-1) rounds to an
			// integer boundary; that neighbour's weight is always 0 there
			// (fx1/fy1 == 0), but the offset still has to stay in bounds.
			ix1, iy1 := ix+1, iy+1
			if ix1 >= ctx.w {
				ix1 = ctx.w - 1
			}
			if iy1 >= ctx.h {
				iy1 = ctx.h - 1
			}

			p0 := ix*ctx.bpp + iy*ctx.row
			p1 := ix1*ctx.bpp + iy*ctx.row
			p2 := ix*ctx.bpp + iy1*ctx.row
			p3 := ix1*ctx.bpp + iy1*ctx.row

			fx1 := ofx - float32(ix)
			fx0 := 1.0 - fx1
			fy1 := ofy - float32(iy)
			fy0 := 1.0 - fy1

			ctx.samples[x+y*ctx.sw] = [4]weightSample{
				{pos: p0, weight: fx0 * fy0},
				{pos: p1, weight: fx1 * fy0},
				{pos: p2, weight: fx0 * fy1},
				{pos: p3, weight: fx1 * fy1},
			}

			ofx += d
		}
		ofy += d
	}
}
