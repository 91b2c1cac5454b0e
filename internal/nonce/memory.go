package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/TheGreatAxios/x402-facilitator/internal/errdefs"
	"github.com/TheGreatAxios/x402-facilitator/internal/protocol"
)

// DefaultTTL bounds how long a used nonce is remembered in memory.
const DefaultTTL = time.Hour

type record struct {
	markedAt  time.Time
	expiresAt time.Time
}

// MemoryTracker is the default in-process Tracker. A restart loses its
// state; the chain's own nonce-reuse protection remains the authoritative
// guard.
type MemoryTracker struct {
	mu      sync.Mutex
	records map[string]record
	ttl     time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewMemoryTracker creates a tracker with the given TTL (DefaultTTL when
// zero). A positive sweepInterval starts a background goroutine that
// periodically purges expired records; pass 0 to manage Cleanup manually.
func NewMemoryTracker(ttl, sweepInterval time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &MemoryTracker{
		records: make(map[string]record),
		ttl:     ttl,
	}
	if sweepInterval > 0 {
		t.stop = make(chan struct{})
		t.done = make(chan struct{})
		go t.sweep(sweepInterval)
	}
	return t
}

func (t *MemoryTracker) sweep(interval time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Cleanup(context.Background()) //nolint:errcheck
		case <-t.stop:
			return
		}
	}
}

func (t *MemoryTracker) IsUsed(_ context.Context, nonce string) (bool, error) {
	key, err := protocol.NormalizeNonce(nonce)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	if !ok {
		return false, nil
	}
	return time.Now().Before(rec.expiresAt), nil
}

// MarkUsed is an atomic check-and-set: the lookup and insert happen under
// one lock so concurrent verifies cannot both claim the same nonce.
func (t *MemoryTracker) MarkUsed(_ context.Context, nonce string) error {
	key, err := protocol.NormalizeNonce(nonce)
	if err != nil {
		return err
	}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[key]; ok && now.Before(rec.expiresAt) {
		return errdefs.NewNonceAlreadyUsed("nonce already used: "+key, nil)
	}
	t.records[key] = record{markedAt: now, expiresAt: now.Add(t.ttl)}
	return nil
}

func (t *MemoryTracker) Cleanup(_ context.Context) error {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, rec := range t.records {
		if !now.Before(rec.expiresAt) {
			delete(t.records, key)
		}
	}
	return nil
}

func (t *MemoryTracker) Size(_ context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records), nil
}

func (t *MemoryTracker) Clear(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]record)
	return nil
}

func (t *MemoryTracker) Close() error {
	if t.stop != nil {
		close(t.stop)
		<-t.done
		t.stop = nil
	}
	return nil
}
