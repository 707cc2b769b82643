// Package runner implements the thread runner: it spawns worker
// goroutines that consume messages from one packet buffer and optionally
// produce into another, dispatching read/write/finish callbacks per
// message the way every processing stage (scale, tracker consumers, the
// stream-info printer) is built.
package runner

import (
	"sync"

	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/perr"
	"github.com/glcs-go/recorder/internal/state"
	"github.com/glcs-go/recorder/internal/wire"
)

// Flags carries per-message decisions a ReadCallback makes about how the
// write phase should proceed.
type Flags uint8

const (
	// FlagCopy tells the runner to open a write of identical size to the
	// read message and copy the bytes through verbatim, skipping
	// WriteCallback entirely.
	FlagCopy Flags = 1 << iota
)

// State is handed to ReadCallback and, if the message is not a verbatim
// copy, to WriteCallback afterward. ThreadPtr is the channel by which a
// stage defers per-message context from the read phase to the write
// phase without a shared lookup map.
type State struct {
	Header    wire.Header
	ReadData  []byte
	WriteSize int
	Flags     Flags
	ThreadPtr any

	wh *pbuf.Handle // set internally during the write phase
}

// WriteBytes appends to the output reservation during WriteCallback.
func (s *State) WriteBytes(p []byte) (int, error) {
	return s.wh.Write(p)
}

// DMA returns a writable region of the output reservation during
// WriteCallback, for stages that fill pixel/audio bytes directly instead
// of copying from an intermediate buffer.
func (s *State) DMA(n int, flags pbuf.DMAFlags) ([]byte, error) {
	return s.wh.DMA(n, flags)
}

// ReadCallback inspects an incoming message and decides how the write
// phase (if any) should proceed: set Flags |= FlagCopy for a verbatim
// pass-through, or set WriteSize and let WriteCallback fill the output.
type ReadCallback func(st *State) error

// WriteCallback fills a reserved output message of exactly st.WriteSize
// bytes, previously requested by ReadCallback.
type WriteCallback func(st *State) error

// FinishCallback is invoked exactly once per worker when it exits, with
// the cumulative error that caused it to stop (nil on a clean drain).
type FinishCallback func(err error)

// Config describes a worker pool bound to one input buffer and an
// optional output buffer.
type Config struct {
	Threads int
	In      *pbuf.Buffer
	Out     *pbuf.Buffer // nil if this stage only consumes

	Read   ReadCallback
	Write  WriteCallback
	Finish FinishCallback

	Cancel *state.Flag
}

// Runner owns the worker pool spawned by Start.
type Runner struct {
	cfg Config
	wg  sync.WaitGroup
}

// Start spawns cfg.Threads workers and returns immediately.
func Start(cfg Config) *Runner {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	r := &Runner{cfg: cfg}
	r.wg.Add(cfg.Threads)
	for i := 0; i < cfg.Threads; i++ {
		go r.worker()
	}
	return r
}

// Wait blocks until every worker has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) worker() {
	defer r.wg.Done()

	var workerErr error
	for {
		if r.cfg.Cancel != nil && r.cfg.Cancel.Cancelled() {
			break
		}

		rh, err := r.cfg.In.Open(pbuf.ModeRead)
		if err != nil {
			if err != perr.ErrCancelled {
				workerErr = err
			}
			break
		}

		if err := r.dispatch(rh); err != nil {
			if err != perr.ErrCancelled {
				workerErr = err
			}
			break
		}
	}

	if r.cfg.Finish != nil {
		r.cfg.Finish(workerErr)
	}
}

func (r *Runner) dispatch(rh *pbuf.Handle) error {
	data := rh.Bytes()

	st := &State{ReadData: data}
	if len(data) >= wire.HeaderSize {
		st.Header.Type = wire.MsgKind(data[0])
	}

	if r.cfg.Read != nil {
		if err := r.cfg.Read(st); err != nil {
			rh.Cancel()
			return err
		}
	} else {
		st.Flags |= FlagCopy
	}

	if r.cfg.Out == nil {
		return rh.Close()
	}

	if st.Flags&FlagCopy != 0 {
		wh, err := r.cfg.Out.Open(pbuf.ModeWrite)
		if err != nil {
			rh.Cancel()
			return err
		}
		if err := wh.SetSize(len(data)); err != nil {
			wh.Cancel()
			rh.Cancel()
			return err
		}
		if _, err := wh.Write(data); err != nil {
			wh.Cancel()
			rh.Cancel()
			return err
		}
		if err := wh.Close(); err != nil {
			rh.Cancel()
			return err
		}
		return rh.Close()
	}

	wh, err := r.cfg.Out.Open(pbuf.ModeWrite)
	if err != nil {
		rh.Cancel()
		return err
	}
	if err := wh.SetSize(st.WriteSize); err != nil {
		wh.Cancel()
		rh.Cancel()
		return err
	}
	st.wh = wh

	if r.cfg.Write != nil {
		if err := r.cfg.Write(st); err != nil {
			wh.Cancel()
			rh.Cancel()
			return err
		}
	}

	if err := wh.Close(); err != nil {
		rh.Cancel()
		return err
	}
	return rh.Close()
}
