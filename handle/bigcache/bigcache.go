// Package bigcache wraps allegro/bigcache as a non-versioned fast tier.
//
// BigCache has no per-entry TTL; every entry lives for the configured
// LifeWindow, so both absolute and sliding expiration degrade to the global
// window. It has no CAS primitive either, so the handle never acts as the
// authoritative tier. It does support key iteration, which makes region
// clearing possible.
package bigcache

import (
	"context"
	"errors"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tierkv/handle"
)

type Store struct {
	c         *bc.BigCache
	name      string
	maxKeyLen int
}

var (
	_ handle.Handle        = (*Store)(nil)
	_ handle.RegionClearer = (*Store)(nil)
)

type Config struct {
	// Name identifies the handle in logs and errors. Default "bigcache".
	Name string
	// LifeWindow is the global entry lifetime; required by bigcache.
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
	// MaxKeyLength rejects longer storage keys with handle.ErrKeyTooLong.
	MaxKeyLength int
}

func New(cfg Config) (*Store, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "bigcache"
	}
	return &Store{c: c, name: name, maxKeyLen: cfg.MaxKeyLength}, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (s *Store) Put(_ context.Context, key string, value []byte, _ handle.Expiration) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	return s.c.Set(key, value)
}

// Add is best-effort only: bigcache has no atomic set-if-absent.
func (s *Store) Add(_ context.Context, key string, value []byte, _ handle.Expiration) (bool, error) {
	if err := s.checkKey(key); err != nil {
		return false, err
	}
	if _, err := s.c.Get(key); err == nil {
		return false, nil
	} else if !errors.Is(err, bc.ErrEntryNotFound) {
		return false, err
	}
	return true, s.c.Set(key, value)
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	err := s.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Clear(context.Context) error {
	return s.c.Reset()
}

func (s *Store) ClearRegion(_ context.Context, prefix string) error {
	// Collect first; deleting while iterating is unsafe.
	var victims []string
	it := s.c.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			continue // entry evicted mid-iteration
		}
		if strings.HasPrefix(info.Key(), prefix) {
			victims = append(victims, info.Key())
		}
	}
	for _, k := range victims {
		if err := s.c.Delete(k); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
			return err
		}
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return s.c.Close()
}

func (s *Store) checkKey(key string) error {
	if s.maxKeyLen > 0 && len(key) > s.maxKeyLen {
		return handle.ErrKeyTooLong
	}
	return nil
}
