package speech

import (
	"sync"
	"testing"
)

func TestNewAssignsID(t *testing.T) {
	h := New("")
	if h.ID() == "" {
		t.Fatalf("expected generated id")
	}
	if New("u1").ID() != "u1" {
		t.Fatalf("expected explicit id")
	}
	if !h.AllowInterruptions() {
		t.Fatalf("handles should be interruptible by default")
	}
}

func TestInterruptOnce(t *testing.T) {
	h := New("u1")
	if h.Interrupted() {
		t.Fatalf("new handle must not be interrupted")
	}
	if !h.Interrupt() {
		t.Fatalf("first interrupt should succeed")
	}
	if h.Interrupt() {
		t.Fatalf("second interrupt should be a no-op")
	}
	if !h.Interrupted() {
		t.Fatalf("flag not set")
	}
	select {
	case <-h.InterruptedC():
	default:
		t.Fatalf("interrupted channel not closed")
	}
}

func TestInterruptConcurrent(t *testing.T) {
	h := New("u1")
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.Interrupt() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful interrupt, got %d", wins)
	}
}

func TestInterruptAfterDone(t *testing.T) {
	h := New("u1")
	h.MarkDone()
	h.MarkDone()
	if h.Interrupt() {
		t.Fatalf("completed handle should not be interruptible")
	}
	if h.Interrupted() {
		t.Fatalf("flag must stay false after natural completion")
	}
	select {
	case <-h.Done():
	default:
		t.Fatalf("done channel not closed")
	}
}
