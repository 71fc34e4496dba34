package tierkv

import (
	"context"

	"github.com/unkn0wn-root/tierkv/codec"
	"github.com/unkn0wn-root/tierkv/handle"
)

// Manager is the unified front over an ordered chain of cache handles.
// V is the caller's value type; serialization is handled by a pluggable
// Codec[V]. A Manager is safe for unsynchronized concurrent use; it holds no
// lock across the Update loop - correctness under concurrent writers rests
// entirely on the authoritative handle's CAS primitive.
type Manager[V any] interface {
	Enabled() bool
	Close(ctx context.Context) error

	// Get returns the first hit in chain order. Per PropagationMode, a hit
	// in a slower tier is back-filled into the faster ones. Misses are
	// (zero, false, nil); a non-nil error with ok=false reports handle
	// failures that prevented part of the lookup.
	Get(ctx context.Context, key, region string) (v V, ok bool, err error)

	// Put unconditionally upserts the item. The result reflects the primary
	// handle; secondary failures are observed via Hooks only.
	Put(ctx context.Context, item Item[V]) error

	// Add stores the item only if (Key, Region) is absent in the primary
	// handle. Returns false, without overwriting, when already present.
	Add(ctx context.Context, item Item[V]) (bool, error)

	// Remove deletes (key, region), reporting the primary handle's outcome.
	Remove(ctx context.Context, key, region string) (bool, error)

	// Exists probes the chain without decoding or back-filling.
	Exists(ctx context.Context, key, region string) (bool, error)

	// Clear drops every entry from every handle.
	Clear(ctx context.Context) error

	// ClearRegion drops every entry in region from handles able to
	// enumerate keys; others are skipped and reported via Hooks.
	ClearRegion(ctx context.Context, region string) error

	// Update applies fn to the current value through a CAS retry loop on
	// the authoritative handle, using the manager-wide UpdateConfig. fn may
	// be invoked multiple times (once per attempt, on freshly read data)
	// and must be side-effect free. Update never creates a missing item.
	Update(ctx context.Context, key, region string, fn func(V) V) (V, error)

	// UpdateWith is Update with a per-call UpdateConfig.
	UpdateWith(ctx context.Context, key, region string, fn func(V) V, cfg UpdateConfig) (V, error)

	// GetOrLoad returns the cached value or computes it via load on a miss,
	// storing the result. Concurrent loads for one key are collapsed into a
	// single call.
	GetOrLoad(ctx context.Context, key, region string, load LoadFunc[V]) (V, error)
}

// LoadFunc computes a value on a cache miss, returning the expiration to
// store it with.
type LoadFunc[V any] func(ctx context.Context) (V, Expiration, error)

// Options configure a Manager. Only Handles and Codec are required; the rest
// default sensibly. Immutable after New.
type Options[V any] struct {
	// Required
	Handles []handle.Handle // ordered fastest/local-first, slowest/durable-last
	Codec   codec.Codec[V]

	Logger      Logger          // nil => no logging
	Hooks       Hooks           // nil => no hooks
	Propagation PropagationMode // zero => PropagationUpOnReadHit
	Update      UpdateConfig    // zero => {DefaultMaxRetries, ConflictEvictOthers}
	Disabled    bool            // default false (enabled)
}

func New[V any](opts Options[V]) (Manager[V], error) {
	return newManager[V](opts)
}
