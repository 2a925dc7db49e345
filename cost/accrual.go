package cost

import (
	"context"
	"sync"
	"time"
)

// Accrual bills prompt-cache storage continuously rather than per-call.
// While a cache is alive a 1-second tick adds
// tokenCount/1e6 * storageRate/3600 to the accumulator. Starting a new
// lifecycle cancels the previous ticker, so at most one is alive.
type Accrual struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	accrued float64
	onTick  func(accrued float64)
}

// NewAccrual creates an accrual meter. onTick, if non-nil, is invoked after
// every tick with the running total (used for countdown display and
// opportunistic TTL refresh).
func NewAccrual(onTick func(accrued float64)) *Accrual {
	return &Accrual{onTick: onTick}
}

// Start begins ticking for a cache of the given size. Any previous ticker
// is cancelled first.
func (a *Accrual) Start(ctx context.Context, tokenCount int, t Tier) {
	perTick := float64(tokenCount) / 1e6 * t.StorageRate / 3600

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	tickCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				a.mu.Lock()
				a.accrued += perTick
				total := a.accrued
				onTick := a.onTick
				a.mu.Unlock()
				if onTick != nil {
					onTick(total)
				}
			}
		}
	}()
}

// Stop cancels the active ticker, if any. The accumulator keeps its value.
func (a *Accrual) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// Accrued returns the storage spend accumulated so far.
func (a *Accrual) Accrued() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accrued
}

// Restore sets the accumulator from persisted state.
func (a *Accrual) Restore(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accrued = v
}
