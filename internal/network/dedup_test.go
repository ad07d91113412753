package network

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDedupBasic(t *testing.T) {
	d := NewDedup(0)
	defer d.Close()

	msg := []byte("report")

	if !d.Check("a", msg) {
		t.Error("first delivery should be new")
	}

	if d.Check("a", msg) {
		t.Error("second delivery from the same sender should be a duplicate")
	}

	if !d.Check("b", msg) {
		t.Error("same bytes from another sender should be new")
	}
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(time.Second)
	defer d.Close()

	var clockMu sync.Mutex
	now := time.Unix(100, 0)
	advance := func(dt time.Duration) {
		clockMu.Lock()
		now = now.Add(dt)
		clockMu.Unlock()
	}

	d.mu.Lock()
	d.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	d.mu.Unlock()

	d.Check("a", []byte("x"))

	advance(2 * time.Second)

	if !d.Check("a", []byte("x")) {
		t.Error("entry should have expired")
	}

	advance(2 * time.Second)
	d.expire()

	if d.Len() != 0 {
		t.Errorf("len after expire: got %d, want 0", d.Len())
	}
}

func TestDedupConcurrent(t *testing.T) {
	d := NewDedup(0)
	defer d.Close()

	var newCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Check("a", []byte("same")) {
				newCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if newCount.Load() != 1 {
		t.Errorf("new count: got %d, want 1", newCount.Load())
	}
}
