package tierkv

import "context"

// Update runs the optimistic-concurrency loop against the authoritative
// handle. No lock is held across the loop: any number of callers across any
// number of processes may contend on one key, and the handle's TryUpdate is
// the sole serialization point. A version conflict means some concurrent
// writer won; the loop re-reads and re-applies fn on fresh data until it wins
// or the retry budget runs out.
func (m *manager[V]) Update(ctx context.Context, key, region string, fn func(V) V) (V, error) {
	return m.UpdateWith(ctx, key, region, fn, m.update)
}

func (m *manager[V]) UpdateWith(ctx context.Context, key, region string, fn func(V) V, cfg UpdateConfig) (V, error) {
	var zero V
	if !m.enabled {
		return zero, ErrItemNotFound
	}
	if m.auth == nil {
		return zero, ErrNoAuthoritativeHandle
	}
	sk, err := m.storageKey(key, region)
	if err != nil {
		return zero, err
	}
	cfg = cfg.normalized(m.update)

	// MaxRetries = 0 still permits the one initial attempt.
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		raw, ver, ok, err := m.auth.GetVersioned(ctx, sk)
		if err != nil {
			return zero, &HandleError{Handle: m.auth.Name(), Op: "get_versioned", Err: err}
		}
		if !ok {
			return zero, ErrItemNotFound
		}
		cur, err := m.codec.Decode(raw)
		if err != nil {
			_, _ = m.auth.Remove(ctx, sk)
			m.hooks.SelfHeal(m.auth.Name(), sk)
			return zero, ErrItemNotFound
		}

		next := fn(cur)
		nraw, err := m.codec.Encode(next)
		if err != nil {
			return zero, err
		}

		ok, _, err = m.auth.TryUpdate(ctx, sk, ver, nraw, Expiration{})
		m.hooks.CASAttempt(sk, err == nil && ok)
		if err != nil {
			// A transport failure burns a retry the same way a version
			// conflict does.
			m.log.Warn("CAS attempt failed", Fields{"handle": m.auth.Name(), "key": key, "err": err})
			continue
		}
		if ok {
			m.reconcile(ctx, sk, nraw, cfg.Conflict)
			return next, nil
		}
		m.hooks.CASConflict(sk, attempt)
	}

	m.hooks.RetriesExhausted(sk, cfg.MaxRetries)
	return zero, ErrTooManyRetries
}

// reconcile propagates a successful CAS to the non-authoritative tiers.
// It is not atomic with the CAS itself; a failure here leaves the chain
// transiently inconsistent until the next back-fill or eviction-forced
// re-fetch.
func (m *manager[V]) reconcile(ctx context.Context, sk string, raw []byte, policy VersionConflictHandling) {
	if policy == ConflictIgnore {
		return
	}
	for i, h := range m.handles {
		if i == m.authIdx {
			continue
		}
		switch policy {
		case ConflictUpdateOthers:
			if err := h.Put(ctx, sk, raw, Expiration{}); err != nil {
				m.secondary(h, "reconcile_put", err)
			}
		case ConflictEvictOthers:
			if _, err := h.Remove(ctx, sk); err != nil {
				m.secondary(h, "reconcile_evict", err)
			}
		}
	}
}
