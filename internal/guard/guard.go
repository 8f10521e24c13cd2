/**
 * Concurrency Guard
 *
 * Per-(applicant, document type) processing lock with bounded staleness. A
 * holder that crashes without releasing blocks the key for at most the TTL.
 * Live holders refresh their lease so long OCR runs keep the key.
 */

package guard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an unrefreshed lock keeps blocking its key
const DefaultTTL = 30 * time.Second

// Lease identifies one holder of a key. Refresh and Release only act while
// the lease still owns the key.
type Lease struct {
	Key   string
	Token string
}

func newLease(key string) *Lease {
	return &Lease{Key: key, Token: uuid.NewString()}
}

// Guard serializes processing per key
type Guard interface {
	// Acquire returns ok=false when a lock younger than the TTL is held for key.
	// Stale locks are overwritten.
	Acquire(ctx context.Context, key string) (lease *Lease, ok bool, err error)
	// Refresh restarts the TTL. It returns false when the lease no longer owns the key.
	Refresh(ctx context.Context, lease *Lease) (bool, error)
	// Release clears the lock if the lease still owns it.
	Release(ctx context.Context, lease *Lease) error
}

// Key builds the lock key for an applicant's document slot.
func Key(applicantID, docType string) string {
	return applicantID + "_" + docType
}

type memoryLock struct {
	token   string
	touched time.Time
}

// MemoryGuard keeps locks in process memory
type MemoryGuard struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryGuard creates an in-process guard. now may be nil.
func NewMemoryGuard(ttl time.Duration, now func() time.Time) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{locks: make(map[string]memoryLock), ttl: ttl, now: now}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (*Lease, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if l, held := g.locks[key]; held && now.Sub(l.touched) < g.ttl {
		return nil, false, nil
	}
	lease := newLease(key)
	g.locks[key] = memoryLock{token: lease.Token, touched: now}
	return lease, true, nil
}

func (g *MemoryGuard) Refresh(_ context.Context, lease *Lease) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, held := g.locks[lease.Key]
	if !held || l.token != lease.Token {
		return false, nil
	}
	l.touched = g.now()
	g.locks[lease.Key] = l
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, lease *Lease) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, held := g.locks[lease.Key]; held && l.token == lease.Token {
		delete(g.locks, lease.Key)
	}
	return nil
}

// Age reports how long ago key was locked or last refreshed, for error details.
func (g *MemoryGuard) Age(_ context.Context, key string) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, held := g.locks[key]
	if !held {
		return 0, false
	}
	return g.now().Sub(l.touched), true
}
