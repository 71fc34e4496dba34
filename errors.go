package tierkv

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tierkv/handle"
)

var (
	// ErrItemNotFound reports an Update target that is absent from the
	// authoritative handle. Update never creates items.
	ErrItemNotFound = errors.New("tierkv: item not found")

	// ErrTooManyRetries reports an exhausted CAS loop. The caller's intended
	// change is dropped; the stored value is whatever the winning concurrent
	// writer produced.
	ErrTooManyRetries = errors.New("tierkv: update retries exhausted")

	// ErrEmptyKey reports an empty item key.
	ErrEmptyKey = errors.New("tierkv: key must be non-empty")

	// ErrNoAuthoritativeHandle reports a chain without any Versioned handle;
	// Update has nowhere to arbitrate.
	ErrNoAuthoritativeHandle = errors.New("tierkv: no versioned handle in chain")

	// ErrKeyRejected reports a backend-specific key constraint violation.
	// Handles reject such keys outright, never truncate.
	ErrKeyRejected = handle.ErrKeyTooLong
)

// HandleError wraps a failure from a specific handle, preserving which tier
// and operation failed. Secondary-handle failures are only logged and hooked;
// a HandleError reaching the caller came from the primary or authoritative
// handle.
type HandleError struct {
	Handle string
	Op     string
	Err    error
}

func (e *HandleError) Error() string {
	return fmt.Sprintf("tierkv: handle %q: %s: %v", e.Handle, e.Op, e.Err)
}

func (e *HandleError) Unwrap() error { return e.Err }
