// Package ristretto wraps dgraph-io/ristretto as a non-versioned fast tier.
//
// Ristretto provides no CAS primitive and no key iteration, so this handle
// never acts as the authoritative tier and does not implement RegionClearer.
// Sliding expiration degrades to absolute (no touch-on-read in ristretto);
// admission may reject writes under pressure, which is acceptable for a
// non-authoritative tier that repopulates via read back-fill.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tierkv/handle"
)

type Store struct {
	c         *rc.Cache
	name      string
	def       handle.Expiration
	maxKeyLen int
}

var _ handle.Handle = (*Store)(nil)

type Config struct {
	// Name identifies the handle in logs and errors. Default "ristretto".
	Name string
	// NumCounters/MaxCost/BufferItems are passed to ristretto verbatim and
	// must all be positive.
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// DefaultExpiration applies to writes that pass a zero Expiration.
	DefaultExpiration handle.Expiration
	// MaxKeyLength rejects longer storage keys with handle.ErrKeyTooLong.
	MaxKeyLength int
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto handle: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "ristretto"
	}
	return &Store{c: c, name: name, def: cfg.DefaultExpiration, maxKeyLen: cfg.MaxKeyLength}, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, exp handle.Expiration) error {
	ttl, err := s.ttl(key, exp)
	if err != nil {
		return err
	}
	// Cost is the payload size; admission may still say no.
	s.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Add is best-effort only: ristretto has no atomic set-if-absent, so a
// concurrent writer can slip between the existence check and the write.
// Acceptable for a non-authoritative tier.
func (s *Store) Add(_ context.Context, key string, value []byte, exp handle.Expiration) (bool, error) {
	ttl, err := s.ttl(key, exp)
	if err != nil {
		return false, err
	}
	if _, ok := s.c.Get(key); ok {
		return false, nil
	}
	s.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return true, nil
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	_, ok := s.c.Get(key)
	s.c.Del(key)
	return ok, nil
}

func (s *Store) Clear(context.Context) error {
	s.c.Clear()
	return nil
}

func (s *Store) Close(context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes ristretto metrics when enabled. Not part of handle.Handle.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }

func (s *Store) ttl(key string, exp handle.Expiration) (time.Duration, error) {
	if s.maxKeyLen > 0 && len(key) > s.maxKeyLen {
		return 0, handle.ErrKeyTooLong
	}
	if exp.Mode == handle.ExpirationDefault {
		exp = s.def
	}
	switch exp.Mode {
	case handle.ExpirationAbsolute, handle.ExpirationSliding:
		if exp.Timeout > 0 {
			return exp.Timeout, nil
		}
	}
	return 0, nil // no expiry
}
