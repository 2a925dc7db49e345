package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// blockingSave counts invocations and can hold a save open until released.
type blockingSave struct {
	mu      sync.Mutex
	calls   int
	running chan struct{}
	release chan struct{}
}

func newBlockingSave() *blockingSave {
	return &blockingSave{
		running: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingSave) save(ctx context.Context) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.running <- struct{}{}
	<-b.release
	return nil
}

func (b *blockingSave) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestAutoSaverCoalescesRequests(t *testing.T) {
	b := newBlockingSave()
	saver := NewAutoSaver(b.save, nil)
	ctx := context.Background()

	saver.Request(ctx)
	<-b.running // first save is now in flight

	// Several requests during the flight coalesce into one re-run.
	saver.Request(ctx)
	saver.Request(ctx)
	saver.Request(ctx)

	b.release <- struct{}{} // finish first save
	<-b.running             // the coalesced re-run starts
	b.release <- struct{}{}

	require.Eventually(t, func() bool { return b.count() == 2 },
		time.Second, 5*time.Millisecond)

	// Quiescent saver runs a fresh request immediately.
	saver.Request(ctx)
	<-b.running
	b.release <- struct{}{}
	require.Eventually(t, func() bool { return b.count() == 3 },
		time.Second, 5*time.Millisecond)
}

func TestAutoSaverFlushWaitsForInFlightSave(t *testing.T) {
	b := newBlockingSave()
	saver := NewAutoSaver(b.save, nil)
	ctx := context.Background()

	saver.Request(ctx)
	<-b.running

	flushed := make(chan error, 1)
	go func() { flushed <- saver.Flush(ctx) }()

	select {
	case <-flushed:
		t.Fatal("flush returned while a save was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	b.release <- struct{}{} // in-flight save finishes
	<-b.running             // flush's own save starts
	b.release <- struct{}{}
	require.NoError(t, <-flushed)
	require.Equal(t, 2, b.count())
}
