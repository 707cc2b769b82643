package pbuf

import (
	"sync"
	"testing"

	"github.com/glcs-go/recorder/internal/perr"
)

func writeMessage(t *testing.T, b *Buffer, payload []byte) {
	t.Helper()
	h, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatalf("open write: %v", err)
	}
	if err := h.SetSize(len(payload)); err != nil {
		t.Fatalf("setsize: %v", err)
	}
	if _, err := h.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func readMessage(t *testing.T, b *Buffer) []byte {
	t.Helper()
	h, err := b.Open(ModeRead)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	data := append([]byte(nil), h.Bytes()...)
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return data
}

func TestBufferTotalOrder(t *testing.T) {
	b := New(1 << 20)
	writeMessage(t, b, []byte("A"))
	writeMessage(t, b, []byte("B"))

	if got := string(readMessage(t, b)); got != "A" {
		t.Fatalf("expected A, got %s", got)
	}
	if got := string(readMessage(t, b)); got != "B" {
		t.Fatalf("expected B, got %s", got)
	}
}

func TestBufferCrossWriterCommitOrder(t *testing.T) {
	b := New(1 << 20)

	// Writer 1 opens first but closes last; writer 2 opens second but
	// closes first. Commit order must follow Close order, not Open order.
	h1, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := h1.SetSize(1); err != nil {
		t.Fatal(err)
	}
	h1.Write([]byte("1"))

	h2, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := h2.SetSize(1); err != nil {
		t.Fatal(err)
	}
	h2.Write([]byte("2"))

	if err := h2.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h1.Close(); err != nil {
		t.Fatal(err)
	}

	if got := string(readMessage(t, b)); got != "2" {
		t.Fatalf("expected writer 2's message first, got %s", got)
	}
	if got := string(readMessage(t, b)); got != "1" {
		t.Fatalf("expected writer 1's message second, got %s", got)
	}
}

func TestBufferAtomicityNoPartialWrites(t *testing.T) {
	b := New(1 << 20)

	h, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetSize(4); err != nil {
		t.Fatal(err)
	}
	h.Write([]byte("ab"))

	// A concurrent ReadTry must not observe the half-written message.
	if _, err := b.Open(ModeReadTry); err != perr.ErrBusy {
		t.Fatalf("expected ErrBusy before commit, got err=%v", err)
	}

	h.Write([]byte("cd"))
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	if got := string(readMessage(t, b)); got != "abcd" {
		t.Fatalf("expected full message abcd, got %q", got)
	}
}

func TestBufferCancelLeavesNoTrace(t *testing.T) {
	b := New(1 << 20)

	h, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetSize(3); err != nil {
		t.Fatal(err)
	}
	h.Write([]byte("xyz"))
	if err := h.Cancel(); err != nil {
		t.Fatal(err)
	}

	if _, err := b.Open(ModeReadTry); err != perr.ErrBusy {
		t.Fatalf("expected empty queue after cancel, got err=%v", err)
	}

	// Capacity must have been returned too.
	writeMessage(t, b, make([]byte, b.capacity))
	if got := len(readMessage(t, b)); got != b.capacity {
		t.Fatalf("expected full-capacity message, got %d bytes", got)
	}
}

func TestBufferWriteTryBusyOnFullSlots(t *testing.T) {
	b := New(1 << 20)
	b.maxSlots = 1

	h1, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Open(ModeWriteTry); err != perr.ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	h1.SetSize(0)
	if err := h1.Close(); err != nil {
		t.Fatal(err)
	}

	h2, err := b.Open(ModeWriteTry)
	if err != nil {
		t.Fatalf("expected slot to free up, got %v", err)
	}
	h2.SetSize(0)
	h2.Close()
}

func TestBufferSetSizeBusyUnderTryWhenNoSpace(t *testing.T) {
	b := New(4)

	h, err := b.Open(ModeWriteTry)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetSize(8); err != perr.ErrNoSpace {
		t.Fatalf("expected ErrNoSpace for payload exceeding total capacity, got %v", err)
	}
	h.Cancel()

	// Occupy the whole buffer, then a second try-writer must see Busy,
	// not NoSpace, since the payload *could* fit once space frees up.
	occupant, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := occupant.SetSize(4); err != nil {
		t.Fatal(err)
	}
	occupant.Write([]byte("aaaa"))
	occupant.Close()

	h2, err := b.Open(ModeWriteTry)
	if err != nil {
		t.Fatal(err)
	}
	if err := h2.SetSize(4); err != perr.ErrBusy {
		t.Fatalf("expected ErrBusy while buffer is full, got %v", err)
	}
	h2.Cancel()
}

func TestBufferCancelBufferAbortsWaiters(t *testing.T) {
	b := New(1 << 20)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Open(ModeRead)
			errs <- err
		}()
	}

	b.CancelBuffer()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != perr.ErrCancelled {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	}

	if _, err := b.Open(ModeWrite); err != perr.ErrCancelled {
		t.Fatalf("expected buffer to stay cancelled, got %v", err)
	}
}
