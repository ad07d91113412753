package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is how long a delivered message is remembered.
	defaultDedupTTL = 5 * time.Second

	// cleanupInterval is the interval between expiry sweeps.
	cleanupInterval = 1 * time.Second
)

// Dedup drops a message already delivered from the same sender within the TTL.
// Entries are keyed by BLAKE3(sender || payload) so two nodes reporting the
// same bytes are both delivered.
type Dedup struct {
	seen map[[32]byte]time.Time // seen maps entry hash to first delivery
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDedup creates a tracker; ttl <= 0 uses the default.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	d := &Dedup{
		seen: make(map[[32]byte]time.Time),
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.cleanupLoop()

	return d
}

// Check reports whether data from sender is new and records it if so.
func (d *Dedup) Check(sender string, data []byte) bool {
	key := entryKey(sender, data)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return false
	}

	d.seen[key] = now

	return true
}

// Len returns the number of remembered entries.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen)
}

// Close stops the cleanup goroutine.
func (d *Dedup) Close() {
	close(d.stop)
	d.wg.Wait()
}

func (d *Dedup) cleanupLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.expire()
		case <-d.stop:
			return
		}
	}
}

// expire removes entries older than the TTL.
func (d *Dedup) expire() {
	now := d.now()

	d.mu.Lock()
	for key, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, key)
		}
	}
	d.mu.Unlock()
}

func entryKey(sender string, data []byte) [32]byte {
	h := blake3.New()
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write(data)

	var key [32]byte
	h.Sum(key[:0])

	return key
}
