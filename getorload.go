package tierkv

import "context"

// GetOrLoad returns the cached value for (key, region) or computes it via
// load on a miss. Concurrent loads for the same storage key collapse into a
// single call (singleflight); the losers share the winner's result. The
// loaded value is stored best-effort - a failed Put does not fail the call.
func (m *manager[V]) GetOrLoad(ctx context.Context, key, region string, load LoadFunc[V]) (V, error) {
	var zero V
	sk, err := m.storageKey(key, region)
	if err != nil {
		return zero, err
	}

	if v, ok, _ := m.Get(ctx, key, region); ok {
		return v, nil
	}

	v, err, _ := m.sf.Do(sk, func() (any, error) {
		// Re-check: another flight may have populated the cache while we
		// waited for the group.
		if v, ok, _ := m.Get(ctx, key, region); ok {
			return v, nil
		}
		val, exp, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.Put(ctx, Item[V]{Key: key, Region: region, Value: val, Expiration: exp}); err != nil {
			m.log.Warn("store after load failed", Fields{"key": key, "err": err})
		}
		return val, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(V), nil
}
