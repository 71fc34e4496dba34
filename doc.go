// Package tierkv orchestrates an ordered chain of heterogeneous cache
// backends ("handles") behind one Get/Put/Add/Remove/Update contract.
//
// Components:
//   - handle.Handle: one tier; a byte store with per-entry expiry
//     (in-process memory, Ristretto, BigCache, Redis).
//   - handle.Versioned: CAS-capable tier. The first one in the chain is the
//     authoritative handle and arbitrates every Update.
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//
// The chain is ordered fastest-first. Reads return the first hit and, per
// PropagationMode, back-fill the faster tiers; writes report the primary
// handle's outcome while secondary failures are only observed, never fatal.
//
// Update is a lock-free optimistic loop against the authoritative handle:
//
//	read version -> apply fn -> TryUpdate -> retry on conflict (bounded)
//
// After a successful swap the remaining tiers are reconciled per
// VersionConflictHandling: left alone, overwritten, or evicted so the next
// read re-fetches from the authoritative tier.
package tierkv
