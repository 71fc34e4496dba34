package tierkv

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tierkv/codec"
	"github.com/unkn0wn-root/tierkv/handle"
	"github.com/unkn0wn-root/tierkv/internal/keys"
)

type manager[V any] struct {
	handles []handle.Handle
	auth    handle.Versioned // first CAS-capable handle; nil when none
	authIdx int
	codec   codec.Codec[V]
	log     Logger
	hooks   Hooks
	mode    PropagationMode
	update  UpdateConfig
	enabled bool
	sf      singleflight.Group
}

func newManager[V any](opts Options[V]) (*manager[V], error) {
	if len(opts.Handles) == 0 {
		return nil, fmt.Errorf("tierkv: at least one handle is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("tierkv: codec is required")
	}
	for i, h := range opts.Handles {
		if h == nil {
			return nil, fmt.Errorf("tierkv: handle at index %d is nil", i)
		}
	}

	m := &manager[V]{
		handles: opts.Handles,
		authIdx: -1,
		codec:   opts.Codec,
		enabled: !opts.Disabled,
	}

	m.log = opts.Logger
	if m.log == nil {
		m.log = NopLogger{}
	}
	m.hooks = opts.Hooks
	if m.hooks == nil {
		m.hooks = NopHooks{}
	}
	m.mode = coalesce(opts.Propagation, PropagationUpOnReadHit)
	m.update = opts.Update.normalized(UpdateConfig{
		MaxRetries: DefaultMaxRetries,
		Conflict:   ConflictEvictOthers,
	})

	for i, h := range m.handles {
		if v, ok := h.(handle.Versioned); ok {
			m.auth = v
			m.authIdx = i
			break
		}
	}
	return m, nil
}

func (m *manager[V]) Enabled() bool { return m.enabled }

func (m *manager[V]) Close(ctx context.Context) error {
	var errs []error
	for _, h := range m.handles {
		if err := h.Close(ctx); err != nil {
			errs = append(errs, &HandleError{Handle: h.Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m *manager[V]) Get(ctx context.Context, key, region string) (V, bool, error) {
	var zero V
	if !m.enabled {
		return zero, false, nil
	}
	sk, err := m.storageKey(key, region)
	if err != nil {
		return zero, false, err
	}

	var errs []error
	for i, h := range m.handles {
		raw, ok, err := h.Get(ctx, sk)
		if err != nil {
			m.secondary(h, "get", err)
			errs = append(errs, &HandleError{Handle: h.Name(), Op: "get", Err: err})
			continue
		}
		if !ok {
			continue
		}
		v, derr := m.codec.Decode(raw)
		if derr != nil {
			// self-heal: drop what we cannot decode and keep looking
			_, _ = h.Remove(ctx, sk)
			m.hooks.SelfHeal(h.Name(), sk)
			m.log.Debug("dropped undecodable entry", Fields{"handle": h.Name(), "key": key, "err": derr})
			continue
		}
		if i > 0 && m.mode != PropagationNone {
			m.backfill(ctx, sk, raw, i)
		}
		return v, true, nil
	}
	return zero, false, errors.Join(errs...)
}

func (m *manager[V]) Put(ctx context.Context, item Item[V]) error {
	if !m.enabled {
		return nil
	}
	sk, err := m.storageKey(item.Key, item.Region)
	if err != nil {
		return err
	}
	raw, err := m.codec.Encode(item.Value)
	if err != nil {
		return err
	}

	targets := m.writeTargets()
	if err := targets[0].Put(ctx, sk, raw, item.Expiration); err != nil {
		return &HandleError{Handle: targets[0].Name(), Op: "put", Err: err}
	}
	for _, h := range targets[1:] {
		if err := h.Put(ctx, sk, raw, item.Expiration); err != nil {
			m.secondary(h, "put", err)
		}
	}
	return nil
}

func (m *manager[V]) Add(ctx context.Context, item Item[V]) (bool, error) {
	if !m.enabled {
		return false, nil
	}
	sk, err := m.storageKey(item.Key, item.Region)
	if err != nil {
		return false, err
	}
	raw, err := m.codec.Encode(item.Value)
	if err != nil {
		return false, err
	}

	targets := m.writeTargets()
	ok, err := targets[0].Add(ctx, sk, raw, item.Expiration)
	if err != nil {
		return false, &HandleError{Handle: targets[0].Name(), Op: "add", Err: err}
	}
	if !ok {
		return false, nil
	}
	// The primary arbitrated the add; secondaries converge to its outcome.
	for _, h := range targets[1:] {
		if err := h.Put(ctx, sk, raw, item.Expiration); err != nil {
			m.secondary(h, "add", err)
		}
	}
	return true, nil
}

func (m *manager[V]) Remove(ctx context.Context, key, region string) (bool, error) {
	if !m.enabled {
		return false, nil
	}
	sk, err := m.storageKey(key, region)
	if err != nil {
		return false, err
	}

	targets := m.writeTargets()
	removed, err := targets[0].Remove(ctx, sk)
	if err != nil {
		return false, &HandleError{Handle: targets[0].Name(), Op: "remove", Err: err}
	}
	for _, h := range targets[1:] {
		if _, err := h.Remove(ctx, sk); err != nil {
			m.secondary(h, "remove", err)
		}
	}
	return removed, nil
}

func (m *manager[V]) Exists(ctx context.Context, key, region string) (bool, error) {
	if !m.enabled {
		return false, nil
	}
	sk, err := m.storageKey(key, region)
	if err != nil {
		return false, err
	}
	var errs []error
	for _, h := range m.handles {
		_, ok, err := h.Get(ctx, sk)
		if err != nil {
			m.secondary(h, "exists", err)
			errs = append(errs, &HandleError{Handle: h.Name(), Op: "exists", Err: err})
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// Clear always reaches every handle; leaving a stale tier behind a purge
// would resurrect deleted data through back-fill.
func (m *manager[V]) Clear(ctx context.Context) error {
	if !m.enabled {
		return nil
	}
	var primaryErr error
	for i, h := range m.handles {
		err := h.Clear(ctx)
		if err == nil {
			continue
		}
		if i == 0 {
			primaryErr = &HandleError{Handle: h.Name(), Op: "clear", Err: err}
			continue
		}
		m.secondary(h, "clear", err)
	}
	return primaryErr
}

func (m *manager[V]) ClearRegion(ctx context.Context, region string) error {
	if !m.enabled {
		return nil
	}
	prefix := keys.RegionPrefix(region)

	var primaryErr error
	for i, h := range m.handles {
		rc, ok := h.(handle.RegionClearer)
		if !ok {
			if i == 0 {
				primaryErr = &HandleError{Handle: h.Name(), Op: "clear_region", Err: handle.ErrNotSupported}
				continue
			}
			m.hooks.RegionClearSkipped(h.Name())
			m.log.Warn("handle cannot enumerate keys; region not cleared there", Fields{"handle": h.Name(), "region": region})
			continue
		}
		err := rc.ClearRegion(ctx, prefix)
		if err == nil {
			continue
		}
		if i == 0 {
			primaryErr = &HandleError{Handle: h.Name(), Op: "clear_region", Err: err}
			continue
		}
		m.secondary(h, "clear_region", err)
	}
	return primaryErr
}

func (m *manager[V]) storageKey(key, region string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	return keys.Storage(key, region), nil
}

// writeTargets returns the handles a write fans out to; index 0 is the
// primary whose outcome the call reports.
func (m *manager[V]) writeTargets() []handle.Handle {
	if m.mode == PropagationNone {
		return m.handles[:1]
	}
	return m.handles
}

func (m *manager[V]) backfill(ctx context.Context, sk string, raw []byte, hitIdx int) {
	for _, h := range m.handles[:hitIdx] {
		if err := h.Put(ctx, sk, raw, Expiration{}); err != nil {
			m.secondary(h, "backfill", err)
		}
	}
	m.hooks.Backfill(sk, hitIdx)
}

func (m *manager[V]) secondary(h handle.Handle, op string, err error) {
	m.hooks.SecondaryFailure(h.Name(), op, err)
	m.log.Warn("handle failed during fan-out", Fields{"handle": h.Name(), "op": op, "err": err})
}
