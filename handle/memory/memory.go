// Package memory provides an in-process handle with native versioned CAS.
//
// Entries carry a monotonically increasing version token; TryUpdate compares
// and swaps under the store lock, which makes this handle authoritative-capable
// for Update calls in single-process deployments. Expired entries are dropped
// lazily on access and, when a cleanup interval is configured, by a background
// janitor.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/tierkv/handle"
)

type entry struct {
	value     []byte
	version   handle.Version
	exp       handle.Expiration
	expiresAt time.Time // zero => never
}

// Store is an in-process versioned byte store.
type Store struct {
	name      string
	def       handle.Expiration
	maxKeyLen int

	mu      sync.Mutex
	entries map[string]*entry

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var (
	_ handle.Versioned     = (*Store)(nil)
	_ handle.RegionClearer = (*Store)(nil)
)

type Config struct {
	// Name identifies the handle in logs and errors. Default "memory".
	Name string
	// DefaultExpiration applies to writes that pass a zero Expiration.
	// Zero means entries never expire.
	DefaultExpiration handle.Expiration
	// MaxKeyLength rejects longer storage keys with handle.ErrKeyTooLong.
	// 0 = unlimited.
	MaxKeyLength int
	// CleanupInterval enables a background sweep of expired entries.
	// 0 disables the janitor; expired entries still vanish lazily on access.
	CleanupInterval time.Duration
}

func New(cfg Config) *Store {
	s := &Store{
		name:      cfg.Name,
		def:       cfg.DefaultExpiration,
		maxKeyLen: cfg.MaxKeyLength,
		entries:   make(map[string]*entry),
	}
	if s.name == "" {
		s.name = "memory"
	}
	if cfg.CleanupInterval > 0 {
		s.ticker = time.NewTicker(cfg.CleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.sweep()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Store) Name() string { return s.name }

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key, time.Now())
	if e == nil {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *Store) GetVersioned(_ context.Context, key string) ([]byte, handle.Version, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key, time.Now())
	if e == nil {
		return nil, 0, false, nil
	}
	return e.value, e.version, true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, exp handle.Expiration) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key, now)
	if e == nil {
		e = &entry{}
		s.entries[key] = e
	}
	s.write(e, value, exp, now)
	return nil
}

func (s *Store) Add(_ context.Context, key string, value []byte, exp handle.Expiration) (bool, error) {
	if err := s.checkKey(key); err != nil {
		return false, err
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(key, now) != nil {
		return false, nil
	}
	e := &entry{}
	s.entries[key] = e
	s.write(e, value, exp, now)
	return true, nil
}

func (s *Store) TryUpdate(_ context.Context, key string, expected handle.Version, value []byte, exp handle.Expiration) (bool, handle.Version, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key, now)
	if e == nil || e.version != expected {
		return false, 0, nil
	}
	s.write(e, value, exp, now)
	return true, e.version, nil
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key, time.Now())
	if e == nil {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
	return nil
}

func (s *Store) ClearRegion(_ context.Context, prefix string) error {
	s.mu.Lock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
	return nil
}

// Close stops the janitor. Safe to call multiple times.
func (s *Store) Close(context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}

// Len reports the number of live entries. Intended for tests and metrics.
func (s *Store) Len() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// live returns the entry for key if present and unexpired, dropping it
// otherwise. Sliding entries get their deadline re-armed. Caller holds s.mu.
func (s *Store) live(key string, now time.Time) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	if e.exp.Mode == handle.ExpirationSliding && e.exp.Timeout > 0 {
		e.expiresAt = now.Add(e.exp.Timeout)
	}
	return e
}

// write replaces the entry value, bumps its version, and re-arms expiry.
// Caller holds s.mu.
func (s *Store) write(e *entry, value []byte, exp handle.Expiration, now time.Time) {
	e.value = value
	e.version++
	e.exp = s.resolve(exp)
	if e.exp.Mode == handle.ExpirationNone || e.exp.Timeout <= 0 {
		e.expiresAt = time.Time{}
	} else {
		e.expiresAt = now.Add(e.exp.Timeout)
	}
}

func (s *Store) resolve(exp handle.Expiration) handle.Expiration {
	if exp.Mode == handle.ExpirationDefault {
		exp = s.def
	}
	if exp.Mode == handle.ExpirationDefault {
		exp.Mode = handle.ExpirationNone
	}
	return exp
}

func (s *Store) checkKey(key string) error {
	if s.maxKeyLen > 0 && len(key) > s.maxKeyLen {
		return handle.ErrKeyTooLong
	}
	return nil
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
}
