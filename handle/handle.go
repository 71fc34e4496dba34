// Package handle defines the per-backend capability contract used by tierkv.
//
// A Handle is one tier in the orchestration chain: a byte store addressed by
// storage keys the orchestrator composes from (key, region). Implementations
// MUST be byte-for-byte transparent: Get must return exactly the same []byte
// that was previously passed to Put/Add for a key (no prepended/appended
// metadata visible to callers, no re-encoding, no mutation). If a backend
// performs internal transforms (framing, compression), they MUST be fully
// reversed before the bytes are returned.
//
// Handles own their constraints. A backend-specific violation (oversize key,
// unreachable server) surfaces as a handle error; a handle never silently
// truncates a key or drops a write.
//
// CAS-capable backends additionally implement Versioned. The version token is
// produced and interpreted only by the handle that issued it; callers pass it
// back verbatim and must not compare, serialize, or derive meaning from it.
package handle

import (
	"context"
	"errors"
	"time"
)

// ExpirationMode selects how an entry expires inside a handle.
type ExpirationMode uint8

const (
	// ExpirationDefault defers to the handle's configured default.
	ExpirationDefault ExpirationMode = iota
	// ExpirationNone stores the entry without a lifetime.
	ExpirationNone
	// ExpirationAbsolute expires the entry a fixed duration after the write.
	ExpirationAbsolute
	// ExpirationSliding expires the entry a fixed duration after its last
	// read. Backends without touch-on-read may approximate this as absolute;
	// each handle documents its behavior.
	ExpirationSliding
)

// Expiration carries per-write expiry. The zero value means
// "use the handle's default".
type Expiration struct {
	Mode    ExpirationMode
	Timeout time.Duration
}

// Version is an opaque per-entry token minted by a Versioned handle.
// Only the handle that produced it may interpret it.
type Version uint64

var (
	// ErrKeyTooLong reports a key exceeding the handle's limit.
	// Handles reject such keys outright; they never truncate.
	ErrKeyTooLong = errors.New("handle: key exceeds backend limit")

	// ErrNotSupported reports an optional capability the backend lacks
	// (e.g. region enumeration on a store without key iteration).
	ErrNotSupported = errors.New("handle: operation not supported by backend")
)

// Handle is a minimal byte store with per-entry expiry.
// Must be safe for concurrent use.
type Handle interface {
	// Name identifies the handle in logs, hooks, and errors.
	Name() string

	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// IO/remote failures return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put unconditionally upserts value under key.
	Put(ctx context.Context, key string, value []byte, exp Expiration) error

	// Add stores value only if key is absent. Returns false, without
	// overwriting, when the key is already present.
	Add(ctx context.Context, key string, value []byte, exp Expiration) (bool, error)

	// Remove deletes key, reporting whether an entry existed.
	Remove(ctx context.Context, key string) (bool, error)

	// Clear drops every entry owned by the handle.
	Clear(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Versioned is implemented by handles whose backend provides an atomic
// compare-and-swap primitive. The first Versioned handle in a chain is the
// authoritative handle for Update calls.
type Versioned interface {
	Handle

	// GetVersioned returns the current value together with its version token.
	// Misses are (nil, 0, false, nil).
	GetVersioned(ctx context.Context, key string) ([]byte, Version, bool, error)

	// TryUpdate atomically replaces the value iff the stored version still
	// equals expected at the instant of the attempt. On success it returns
	// (true, newVersion, nil); on a version mismatch or a vanished key it
	// returns (false, 0, nil) without side effects.
	TryUpdate(ctx context.Context, key string, expected Version, value []byte, exp Expiration) (bool, Version, error)
}

// RegionClearer is implemented by handles whose backend can enumerate keys.
// ClearRegion removes every entry whose storage key starts with prefix.
type RegionClearer interface {
	ClearRegion(ctx context.Context, prefix string) error
}
