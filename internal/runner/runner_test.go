package runner

import (
	"testing"
	"time"

	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/state"
)

func mustWrite(t *testing.T, b *pbuf.Buffer, payload []byte) {
	t.Helper()
	h, err := b.Open(pbuf.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetSize(len(payload)); err != nil {
		t.Fatal(err)
	}
	h.Write(payload)
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
}

func mustRead(t *testing.T, b *pbuf.Buffer) []byte {
	t.Helper()
	h, err := b.Open(pbuf.ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	data := append([]byte(nil), h.Bytes()...)
	h.Close()
	return data
}

func TestRunnerCopyThrough(t *testing.T) {
	in := pbuf.New(1 << 20)
	out := pbuf.New(1 << 20)

	r := Start(Config{
		Threads: 2,
		In:      in,
		Out:     out,
		Read: func(st *State) error {
			st.Flags |= FlagCopy
			return nil
		},
	})
	defer r.Wait()

	mustWrite(t, in, []byte("hello"))
	if got := string(mustRead(t, out)); got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}

	in.CancelBuffer()
	out.CancelBuffer()
}

func TestRunnerWriteCallbackTransforms(t *testing.T) {
	in := pbuf.New(1 << 20)
	out := pbuf.New(1 << 20)

	r := Start(Config{
		Threads: 1,
		In:      in,
		Out:     out,
		Read: func(st *State) error {
			st.WriteSize = len(st.ReadData) * 2
			st.ThreadPtr = len(st.ReadData)
			return nil
		},
		Write: func(st *State) error {
			n := st.ThreadPtr.(int)
			doubled := make([]byte, 0, n*2)
			doubled = append(doubled, st.ReadData...)
			doubled = append(doubled, st.ReadData...)
			st.WriteBytes(doubled)
			return nil
		},
	})
	defer r.Wait()

	mustWrite(t, in, []byte("ab"))
	if got := string(mustRead(t, out)); got != "abab" {
		t.Fatalf("expected abab, got %q", got)
	}

	in.CancelBuffer()
	out.CancelBuffer()
}

func TestRunnerCancellationDrainsWorkers(t *testing.T) {
	in := pbuf.New(1 << 20)
	cancel := state.NewFlag()

	finished := make(chan error, 4)
	r := Start(Config{
		Threads: 4,
		In:      in,
		Cancel:  cancel,
		Finish: func(err error) {
			finished <- err
		},
	})

	in.CancelBuffer()
	cancel.Cancel()
	r.Wait()

	close(finished)
	count := 0
	for err := range finished {
		if err != nil {
			t.Fatalf("expected clean drain, got %v", err)
		}
		count++
	}
	if count != 4 {
		t.Fatalf("expected 4 finish callbacks, got %d", count)
	}
}

func TestRunnerFinishCalledOncePerWorker(t *testing.T) {
	in := pbuf.New(1 << 20)

	var calls int
	done := make(chan struct{})
	r := Start(Config{
		Threads: 1,
		In:      in,
		Finish: func(err error) {
			calls++
			close(done)
		},
	})

	in.CancelBuffer()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for finish callback")
	}
	r.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly one finish call, got %d", calls)
	}
}
