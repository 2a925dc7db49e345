// Package session persists narrative state across restarts: the turn list,
// cumulative usage and cost, the sunk-usage history, and the prompt-cache
// record. Persistence is a small key-value port so business logic stays
// testable without touching disk.
package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load for keys that were never saved.
var ErrNotFound = errors.New("session: key not found")

// Well-known persistence keys.
const (
	KeyTurns          = "turns"
	KeyUsageTotals    = "usageTotals"
	KeySunkUsage      = "sunkUsage"
	KeyTotalCost      = "totalCost"
	KeyStorageAccrued = "storageAccrued"
	KeyCacheRecord    = "cacheRecord"
)

// KV is the persistence port. Implementations must be safe for concurrent
// use; callers serialize their own writes per key.
type KV interface {
	// Load returns the stored value for key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores value under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
