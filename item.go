package tierkv

import "github.com/unkn0wn-root/tierkv/handle"

// Expiration and its modes are re-exported so callers constructing items
// don't need to import the handle package.
type Expiration = handle.Expiration

const (
	ExpirationDefault  = handle.ExpirationDefault
	ExpirationNone     = handle.ExpirationNone
	ExpirationAbsolute = handle.ExpirationAbsolute
	ExpirationSliding  = handle.ExpirationSliding
)

// Item is one cache entry. Identity is (Key, Region); Key must be non-empty,
// Region is an optional secondary namespace. A zero Expiration defers to each
// handle's configured default.
type Item[V any] struct {
	Key        string
	Region     string
	Value      V
	Expiration Expiration
}

// PropagationMode governs which handles receive writes and whether read hits
// in slower tiers are back-filled into faster ones.
type PropagationMode uint8

const (
	propagationUnset PropagationMode = iota

	// PropagationNone applies writes to the primary handle only and never
	// back-fills on read.
	PropagationNone

	// PropagationUpOnReadHit (the default) applies writes to every handle
	// and back-fills faster tiers when a read hits a slower one.
	PropagationUpOnReadHit

	// PropagationFull behaves like PropagationUpOnReadHit for every
	// operation; writes and back-fills reach the whole chain.
	PropagationFull
)

// VersionConflictHandling selects how non-authoritative handles are
// reconciled after a successful CAS on the authoritative one.
type VersionConflictHandling uint8

const (
	conflictUnset VersionConflictHandling = iota

	// ConflictIgnore leaves the other tiers untouched.
	ConflictIgnore

	// ConflictUpdateOthers unconditionally overwrites the other tiers with
	// the newly written value.
	ConflictUpdateOthers

	// ConflictEvictOthers removes the entry from the other tiers instead of
	// overwriting, forcing the next read to re-fetch from the authoritative
	// handle. Under heavy contention an overwritten value may already be
	// stale again; eviction sidesteps that.
	ConflictEvictOthers
)

// DefaultMaxRetries bounds the CAS loop when no retry budget is configured.
const DefaultMaxRetries = 50

// UpdateConfig tunes one Update call or the manager-wide default.
// MaxRetries = 0 permits exactly one CAS attempt.
type UpdateConfig struct {
	MaxRetries int
	Conflict   VersionConflictHandling
}

// normalized fills unset fields from def and clamps negative retry budgets.
func (c UpdateConfig) normalized(def UpdateConfig) UpdateConfig {
	if c == (UpdateConfig{}) {
		return def
	}
	if c.Conflict == conflictUnset {
		c.Conflict = def.Conflict
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}
