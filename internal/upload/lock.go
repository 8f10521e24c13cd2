package upload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/educaid/docverify-worker/internal/guard"
)

// heldLock keeps a processing lease alive while work on the slot runs.
// Losing the lease cancels ctx so the holder stops before it writes the slot.
type heldLock struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	lost   atomic.Bool
}

func (s *Service) holdLock(ctx context.Context, lease *guard.Lease) *heldLock {
	h := &heldLock{done: make(chan struct{})}
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(s.lockRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-h.ctx.Done():
				return
			case <-ticker.C:
				ok, err := s.guard.Refresh(h.ctx, lease)
				if err != nil {
					s.logger.Warn("Failed to refresh processing lock", "key", lease.Key, "error", err)
					continue
				}
				if !ok {
					s.logger.Error("Processing lock lost", "key", lease.Key)
					h.lost.Store(true)
					h.cancel()
					return
				}
			}
		}
	}()
	return h
}

// Lost reports whether another holder took the key.
func (h *heldLock) Lost() bool {
	return h.lost.Load()
}

// stop ends the refresh loop. It is safe to call more than once.
func (h *heldLock) stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	h.wg.Wait()
	h.cancel()
}
