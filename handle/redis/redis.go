// Package redis provides a distributed, CAS-capable handle on go-redis.
//
// Each entry occupies two keys: the framed value under "<prefix>:val:<key>"
// and a version counter under "<prefix>:ver:<key>". The counter is INCRed by
// every write, so any successful write moves the version; TryUpdate runs as a
// Lua script that compares the counter and swaps atomically on the server.
// This keeps CAS correct across processes and machines, where client-side
// locking cannot help.
//
// Values are framed by internal/wire so the expiry metadata survives the
// round trip: sliding entries re-arm their TTL on every read.
package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tierkv/handle"
	"github.com/unkn0wn-root/tierkv/internal/wire"
)

var ErrNilClient = errors.New("redis handle: nil client")

// Store is a versioned byte store backed by Redis.
type Store struct {
	rdb         goredis.UniversalClient
	name        string
	prefix      string
	def         handle.Expiration
	maxKeyLen   int
	closeClient bool
}

var (
	_ handle.Versioned     = (*Store)(nil)
	_ handle.RegionClearer = (*Store)(nil)
)

type Config struct {
	// Client is required. A shared client is fine; see CloseClient.
	Client goredis.UniversalClient
	// Name identifies the handle in logs and errors. Default "redis".
	Name string
	// KeyPrefix namespaces every key this handle writes. Default "tierkv".
	KeyPrefix string
	// DefaultExpiration applies to writes that pass a zero Expiration.
	DefaultExpiration handle.Expiration
	// MaxKeyLength rejects longer storage keys with handle.ErrKeyTooLong.
	// 0 = unlimited.
	MaxKeyLength int
	// CloseClient releases the client on Close. Set true only if this handle
	// exclusively owns it.
	CloseClient bool
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	s := &Store{
		rdb:         cfg.Client,
		name:        cfg.Name,
		prefix:      cfg.KeyPrefix,
		def:         cfg.DefaultExpiration,
		maxKeyLen:   cfg.MaxKeyLength,
		closeClient: cfg.CloseClient,
	}
	if s.name == "" {
		s.name = "redis"
	}
	if s.prefix == "" {
		s.prefix = "tierkv"
	}
	return s, nil
}

// putScript INCRs the version and writes the value in one atomic step.
// KEYS[1]=value key, KEYS[2]=version key; ARGV[1]=framed value, ARGV[2]=ttl ms.
var putScript = goredis.NewScript(`
local ver = redis.call('INCR', KEYS[2])
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('PERSIST', KEYS[2])
end
return ver
`)

// addScript is putScript guarded by key absence. Returns 0 when present.
var addScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('INCR', KEYS[2])
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('PERSIST', KEYS[2])
end
return 1
`)

// casScript: -1 = item missing, 0 = version conflict, >0 = new version.
// ARGV[1]=expected version, ARGV[2]=framed value, ARGV[3]=ttl ms.
var casScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if not cur then return -1 end
if cur ~= ARGV[1] then return 0 end
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local ver = redis.call('INCR', KEYS[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
  redis.call('PEXPIRE', KEYS[2], ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
  redis.call('PERSIST', KEYS[2])
end
return ver
`)

// delScript removes both keys, reporting whether the value existed.
var delScript = goredis.NewScript(`
local n = redis.call('DEL', KEYS[1])
redis.call('DEL', KEYS[2])
return n
`)

func (s *Store) Name() string { return s.name }

func (s *Store) valKey(key string) string { return s.prefix + ":val:" + key }
func (s *Store) verKey(key string) string { return s.prefix + ":ver:" + key }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.valKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	payload, err := s.unframe(ctx, key, b)
	if err != nil {
		return nil, false, nil // self-healed corrupt entry
	}
	return payload, true, nil
}

func (s *Store) GetVersioned(ctx context.Context, key string) ([]byte, handle.Version, bool, error) {
	// One MGET so value and version come from the same instant.
	vals, err := s.rdb.MGet(ctx, s.valKey(key), s.verKey(key)).Result()
	if err != nil {
		return nil, 0, false, err
	}
	raw, ok := asBytes(vals[0])
	if !ok {
		return nil, 0, false, nil
	}
	verStr, ok := asString(vals[1])
	if !ok {
		// Version counter lost while the value survived; drop the orphan.
		_ = s.rdb.Del(ctx, s.valKey(key)).Err()
		return nil, 0, false, nil
	}
	ver, err := strconv.ParseUint(verStr, 10, 64)
	if err != nil {
		return nil, 0, false, err
	}
	payload, err := s.unframe(ctx, key, raw)
	if err != nil {
		return nil, 0, false, nil
	}
	return payload, handle.Version(ver), true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, exp handle.Expiration) error {
	framed, ttl, err := s.frame(key, value, exp)
	if err != nil {
		return err
	}
	return putScript.Run(ctx, s.rdb,
		[]string{s.valKey(key), s.verKey(key)},
		framed, ttl.Milliseconds(),
	).Err()
}

func (s *Store) Add(ctx context.Context, key string, value []byte, exp handle.Expiration) (bool, error) {
	framed, ttl, err := s.frame(key, value, exp)
	if err != nil {
		return false, err
	}
	n, err := addScript.Run(ctx, s.rdb,
		[]string{s.valKey(key), s.verKey(key)},
		framed, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) TryUpdate(ctx context.Context, key string, expected handle.Version, value []byte, exp handle.Expiration) (bool, handle.Version, error) {
	framed, ttl, err := s.frame(key, value, exp)
	if err != nil {
		return false, 0, err
	}
	n, err := casScript.Run(ctx, s.rdb,
		[]string{s.valKey(key), s.verKey(key)},
		strconv.FormatUint(uint64(expected), 10), framed, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, 0, err
	}
	if n <= 0 {
		// Missing and conflict both read as a failed attempt; the next
		// versioned read distinguishes them.
		return false, 0, nil
	}
	return true, handle.Version(n), nil
}

func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	n, err := delScript.Run(ctx, s.rdb, []string{s.valKey(key), s.verKey(key)}).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.deleteByMatch(ctx, escapeMatch(s.prefix)+":*")
}

func (s *Store) ClearRegion(ctx context.Context, prefix string) error {
	if err := s.deleteByMatch(ctx, escapeMatch(s.valKey(prefix))+"*"); err != nil {
		return err
	}
	return s.deleteByMatch(ctx, escapeMatch(s.verKey(prefix))+"*")
}

// Close releases the underlying client only when this handle owns it.
// Repeated calls are no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func (s *Store) frame(key string, value []byte, exp handle.Expiration) ([]byte, time.Duration, error) {
	if s.maxKeyLen > 0 && len(key) > s.maxKeyLen {
		return nil, 0, handle.ErrKeyTooLong
	}
	exp = s.resolve(exp)
	ttl := exp.Timeout
	if exp.Mode == handle.ExpirationNone || ttl < 0 {
		ttl = 0
	}
	return wire.EncodeEntry(byte(exp.Mode), exp.Timeout, value), ttl, nil
}

// unframe decodes a stored entry, deleting it on corruption and re-arming
// sliding TTLs.
func (s *Store) unframe(ctx context.Context, key string, b []byte) ([]byte, error) {
	mode, timeout, payload, err := wire.DecodeEntry(b)
	if err != nil {
		_ = delScript.Run(ctx, s.rdb, []string{s.valKey(key), s.verKey(key)}).Err()
		return nil, err
	}
	if handle.ExpirationMode(mode) == handle.ExpirationSliding && timeout > 0 {
		pipe := s.rdb.Pipeline()
		pipe.PExpire(ctx, s.valKey(key), timeout)
		pipe.PExpire(ctx, s.verKey(key), timeout)
		_, _ = pipe.Exec(ctx)
	}
	return payload, nil
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

func (s *Store) deleteByMatch(ctx context.Context, match string) error {
	iter := s.rdb.Scan(ctx, 0, match, 512).Iterator()
	batch := make([]string, 0, 256)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.rdb.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return flush()
}

// escapeMatch escapes SCAN MATCH glob metacharacters in a literal prefix.
func escapeMatch(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

func asBytes(v any) ([]byte, bool) {
	switch vv := v.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(vv), true
	case []byte:
		return vv, true
	default:
		return nil, false
	}
}

func asString(v any) (string, bool) {
	switch vv := v.(type) {
	case nil:
		return "", false
	case string:
		return vv, true
	case []byte:
		return string(vv), true
	default:
		return "", false
	}
}
