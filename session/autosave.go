package session

import (
	"context"
	"sync"

	"github.com/storyloom/loom/slogger"
)

// AutoSaver serializes background saves. State mutation is single-writer,
// so a save requested while one is in flight is not run concurrently:
// it is deferred and re-run once with the latest state after the current
// save finishes. Multiple requests during one flight coalesce into a
// single re-run.
type AutoSaver struct {
	mu       sync.Mutex // guards inFlight and pending
	runMu    sync.Mutex // held while a save executes
	save     func(ctx context.Context) error
	logger   slogger.Logger
	inFlight bool
	pending  bool
}

// NewAutoSaver wraps a save function. The function must capture the latest
// state when invoked, not when the saver was created.
func NewAutoSaver(save func(ctx context.Context) error, logger slogger.Logger) *AutoSaver {
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &AutoSaver{save: save, logger: logger}
}

// Request schedules a save. Returns immediately; the save runs in the
// background.
func (a *AutoSaver) Request(ctx context.Context) {
	a.mu.Lock()
	if a.inFlight {
		a.pending = true
		a.mu.Unlock()
		return
	}
	a.inFlight = true
	a.mu.Unlock()

	go a.run(ctx)
}

func (a *AutoSaver) run(ctx context.Context) {
	for {
		a.runMu.Lock()
		err := a.save(ctx)
		a.runMu.Unlock()
		if err != nil {
			a.logger.Error("auto-save failed", "error", err)
		}
		a.mu.Lock()
		if a.pending {
			a.pending = false
			a.mu.Unlock()
			continue
		}
		a.inFlight = false
		a.mu.Unlock()
		return
	}
}

// Flush runs a save synchronously, after any in-flight save completes.
// Used at shutdown.
func (a *AutoSaver) Flush(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	a.mu.Lock()
	a.pending = false
	a.mu.Unlock()
	return a.save(ctx)
}
