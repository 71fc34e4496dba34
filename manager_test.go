package tierkv

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	c "github.com/unkn0wn-root/tierkv/codec"
	"github.com/unkn0wn-root/tierkv/handle"
	"github.com/unkn0wn-root/tierkv/handle/memory"
	"github.com/unkn0wn-root/tierkv/internal/keys"
)

var errDown = errors.New("backend down")

// memHandle is a plain (non-versioned) in-memory byte handle used as the
// fast tier in tests. failing switches every operation to an error.
type memHandle struct {
	name    string
	mu      sync.Mutex
	m       map[string][]byte
	failing bool
}

var (
	_ handle.Handle        = (*memHandle)(nil)
	_ handle.RegionClearer = (*memHandle)(nil)
)

func newMemHandle(name string) *memHandle {
	return &memHandle{name: name, m: make(map[string][]byte)}
}

func (h *memHandle) Name() string { return h.name }

func (h *memHandle) Get(_ context.Context, key string) ([]byte, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing {
		return nil, false, errDown
	}
	v, ok := h.m[key]
	return v, ok, nil
}

func (h *memHandle) Put(_ context.Context, key string, value []byte, _ handle.Expiration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing {
		return errDown
	}
	h.m[key] = value
	return nil
}

func (h *memHandle) Add(_ context.Context, key string, value []byte, _ handle.Expiration) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing {
		return false, errDown
	}
	if _, ok := h.m[key]; ok {
		return false, nil
	}
	h.m[key] = value
	return true, nil
}

func (h *memHandle) Remove(_ context.Context, key string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing {
		return false, errDown
	}
	_, ok := h.m[key]
	delete(h.m, key)
	return ok, nil
}

func (h *memHandle) Clear(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing {
		return errDown
	}
	h.m = make(map[string][]byte)
	return nil
}

func (h *memHandle) ClearRegion(_ context.Context, prefix string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing {
		return errDown
	}
	for k := range h.m {
		if strings.HasPrefix(k, prefix) {
			delete(h.m, k)
		}
	}
	return nil
}

func (h *memHandle) Close(context.Context) error { return nil }

func (h *memHandle) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.m)
}

func (h *memHandle) raw(key string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.m[key]
	return v, ok
}

func (h *memHandle) inject(key string, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[key] = value
}

// regionlessHandle strips the RegionClearer capability off a memHandle.
type regionlessHandle struct{ h *memHandle }

func (r regionlessHandle) Name() string { return r.h.Name() }
func (r regionlessHandle) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return r.h.Get(ctx, key)
}
func (r regionlessHandle) Put(ctx context.Context, key string, value []byte, exp handle.Expiration) error {
	return r.h.Put(ctx, key, value, exp)
}
func (r regionlessHandle) Add(ctx context.Context, key string, value []byte, exp handle.Expiration) (bool, error) {
	return r.h.Add(ctx, key, value, exp)
}
func (r regionlessHandle) Remove(ctx context.Context, key string) (bool, error) {
	return r.h.Remove(ctx, key)
}
func (r regionlessHandle) Clear(ctx context.Context) error { return r.h.Clear(ctx) }
func (r regionlessHandle) Close(ctx context.Context) error { return r.h.Close(ctx) }

// countingHooks records every hook event with atomics so concurrent tests
// can assert on totals.
type countingHooks struct {
	attempts       atomic.Int64
	successes      atomic.Int64
	conflicts      atomic.Int64
	exhausted      atomic.Int64
	backfills      atomic.Int64
	secondaryFails atomic.Int64
	selfHeals      atomic.Int64
	regionSkips    atomic.Int64
}

var _ Hooks = (*countingHooks)(nil)

func (h *countingHooks) CASAttempt(_ string, ok bool) {
	h.attempts.Add(1)
	if ok {
		h.successes.Add(1)
	}
}
func (h *countingHooks) CASConflict(string, int)                { h.conflicts.Add(1) }
func (h *countingHooks) RetriesExhausted(string, int)           { h.exhausted.Add(1) }
func (h *countingHooks) Backfill(string, int)                   { h.backfills.Add(1) }
func (h *countingHooks) SecondaryFailure(string, string, error) { h.secondaryFails.Add(1) }
func (h *countingHooks) SelfHeal(string, string)                { h.selfHeals.Add(1) }
func (h *countingHooks) RegionClearSkipped(string)              { h.regionSkips.Add(1) }

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestManager(t *testing.T, chain []handle.Handle, optsOpt func(*Options[user])) Manager[user] {
	t.Helper()
	opts := Options[user]{
		Handles: chain,
		Codec:   c.JSON[user]{},
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	m, err := New[user](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewValidation(t *testing.T) {
	if _, err := New[user](Options[user]{Codec: c.JSON[user]{}}); err == nil {
		t.Fatalf("expected error for empty chain")
	}
	if _, err := New[user](Options[user]{Handles: []handle.Handle{newMemHandle("fast")}}); err == nil {
		t.Fatalf("expected error for nil codec")
	}
	if _, err := New[user](Options[user]{Handles: []handle.Handle{nil}, Codec: c.JSON[user]{}}); err == nil {
		t.Fatalf("expected error for nil handle")
	}
}

func TestGetFirstHitAndBackfill(t *testing.T) {
	ctx := context.Background()
	fast := newMemHandle("fast")
	auth := memory.New(memory.Config{Name: "auth"})
	hooks := &countingHooks{}
	m := newTestManager(t, []handle.Handle{fast, auth}, func(o *Options[user]) { o.Hooks = hooks })
	defer m.Close(ctx)

	v := user{ID: "1", Name: "Ada"}
	raw, err := c.JSON[user]{}.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Seed the slow tier only.
	sk := keys.Storage("u:1", "")
	if err := auth.Put(ctx, sk, raw, handle.Expiration{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, ok, err := m.Get(ctx, "u:1", "")
	if err != nil || !ok || got != v {
		t.Fatalf("Get: ok=%v err=%v got=%v", ok, err, got)
	}
	if _, ok := fast.raw(sk); !ok {
		t.Fatalf("hit at index 1 should back-fill the fast tier")
	}
	if hooks.backfills.Load() != 1 {
		t.Fatalf("expected 1 backfill event, got %d", hooks.backfills.Load())
	}

	// Second read hits the fast tier; no further back-fill.
	if _, ok, _ := m.Get(ctx, "u:1", ""); !ok {
		t.Fatalf("expected hit from fast tier")
	}
	if hooks.backfills.Load() != 1 {
		t.Fatalf("fast-tier hit must not back-fill, got %d events", hooks.backfills.Load())
	}
}

func TestPropagationNone(t *testing.T) {
	ctx := context.Background()
	fast := newMemHandle("fast")
	auth := memory.New(memory.Config{Name: "auth"})
	m := newTestManager(t, []handle.Handle{fast, auth}, func(o *Options[user]) {
		o.Propagation = PropagationNone
	})
	defer m.Close(ctx)

	if err := m.Put(ctx, Item[user]{Key: "k", Value: user{ID: "k"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if fast.len() != 1 {
		t.Fatalf("primary should hold the write")
	}
	if auth.Len() != 0 {
		t.Fatalf("mode None must not fan writes out, auth has %d entries", auth.Len())
	}

	// Seed the slow tier; a hit there must not back-fill under None.
	raw, _ := c.JSON[user]{}.Encode(user{ID: "s"})
	sk := keys.Storage("slow", "")
	_ = auth.Put(ctx, sk, raw, handle.Expiration{})
	if _, ok, _ := m.Get(ctx, "slow", ""); !ok {
		t.Fatalf("expected hit in slow tier")
	}
	if _, ok := fast.raw(sk); ok {
		t.Fatalf("mode None must not back-fill")
	}
}

func TestAddNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, []handle.Handle{memory.New(memory.Config{})}, nil)
	defer m.Close(ctx)

	ok, err := m.Add(ctx, Item[user]{Key: "k", Value: user{ID: "first"}})
	if err != nil || !ok {
		t.Fatalf("first Add: ok=%v err=%v", ok, err)
	}
	ok, err = m.Add(ctx, Item[user]{Key: "k", Value: user{ID: "second"}})
	if err != nil || ok {
		t.Fatalf("second Add must fail: ok=%v err=%v", ok, err)
	}
	got, _, _ := m.Get(ctx, "k", "")
	if got.ID != "first" {
		t.Fatalf("Add overwrote: %+v", got)
	}
}

func TestRegionIsolation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, []handle.Handle{memory.New(memory.Config{})}, nil)
	defer m.Close(ctx)

	if ok, err := m.Add(ctx, Item[user]{Key: "k", Region: "A", Value: user{ID: "a"}}); err != nil || !ok {
		t.Fatalf("Add A: ok=%v err=%v", ok, err)
	}
	if ok, err := m.Add(ctx, Item[user]{Key: "k", Region: "B", Value: user{ID: "b"}}); err != nil || !ok {
		t.Fatalf("Add B should be independent: ok=%v err=%v", ok, err)
	}

	if ok, err := m.Remove(ctx, "k", "A"); err != nil || !ok {
		t.Fatalf("Remove A: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := m.Get(ctx, "k", "A"); ok {
		t.Fatalf("region A entry should be gone")
	}
	if got, ok, _ := m.Get(ctx, "k", "B"); !ok || got.ID != "b" {
		t.Fatalf("region B entry must be untouched: ok=%v got=%+v", ok, got)
	}
}

func TestSecondaryFailureDoesNotChangeResult(t *testing.T) {
	ctx := context.Background()
	auth := memory.New(memory.Config{Name: "auth"})
	bad := newMemHandle("flaky")
	bad.failing = true
	hooks := &countingHooks{}
	m := newTestManager(t, []handle.Handle{auth, bad}, func(o *Options[user]) { o.Hooks = hooks })
	defer m.Close(ctx)

	if err := m.Put(ctx, Item[user]{Key: "k", Value: user{ID: "x"}}); err != nil {
		t.Fatalf("Put must succeed despite secondary failure: %v", err)
	}
	if got, ok, err := m.Get(ctx, "k", ""); err != nil || !ok || got.ID != "x" {
		t.Fatalf("Get: ok=%v err=%v got=%+v", ok, err, got)
	}
	if hooks.secondaryFails.Load() == 0 {
		t.Fatalf("secondary failure should be observed via hooks")
	}
}

func TestPrimaryFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	bad := newMemHandle("down")
	bad.failing = true
	m := newTestManager(t, []handle.Handle{bad, memory.New(memory.Config{})}, nil)
	defer m.Close(ctx)

	err := m.Put(ctx, Item[user]{Key: "k", Value: user{ID: "x"}})
	if !errors.Is(err, errDown) {
		t.Fatalf("primary failure must surface, got %v", err)
	}
	var he *HandleError
	if !errors.As(err, &he) || he.Handle != "down" {
		t.Fatalf("expected HandleError naming the primary, got %v", err)
	}
}

func TestKeyRejectedSurfaces(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, []handle.Handle{memory.New(memory.Config{MaxKeyLength: 8})}, nil)
	defer m.Close(ctx)

	err := m.Put(ctx, Item[user]{Key: strings.Repeat("k", 64), Value: user{}})
	if !errors.Is(err, ErrKeyRejected) {
		t.Fatalf("oversize key must surface as KeyRejected, got %v", err)
	}
	if _, err := m.Add(ctx, Item[user]{Key: strings.Repeat("k", 64), Value: user{}}); !errors.Is(err, ErrKeyRejected) {
		t.Fatalf("Add with oversize key must surface as KeyRejected, got %v", err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, []handle.Handle{memory.New(memory.Config{})}, nil)
	defer m.Close(ctx)

	if _, _, err := m.Get(ctx, "", ""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Get with empty key: %v", err)
	}
	if err := m.Put(ctx, Item[user]{}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Put with empty key: %v", err)
	}
}

func TestSelfHealOnUndecodable(t *testing.T) {
	ctx := context.Background()
	fast := newMemHandle("fast")
	auth := memory.New(memory.Config{Name: "auth"})
	hooks := &countingHooks{}
	m := newTestManager(t, []handle.Handle{fast, auth}, func(o *Options[user]) { o.Hooks = hooks })
	defer m.Close(ctx)

	v := user{ID: "1"}
	raw, _ := c.JSON[user]{}.Encode(v)
	sk := keys.Storage("k", "")
	_ = auth.Put(ctx, sk, raw, handle.Expiration{})
	fast.inject(sk, []byte("not-json"))

	got, ok, err := m.Get(ctx, "k", "")
	if err != nil || !ok || got != v {
		t.Fatalf("Get should fall through to the good tier: ok=%v err=%v got=%+v", ok, err, got)
	}
	// back-fill replaces the dropped entry with good bytes; the junk is gone
	if b, ok := fast.raw(sk); ok && string(b) == "not-json" {
		t.Fatalf("corrupt entry survived in fast tier")
	}
	if hooks.selfHeals.Load() != 1 {
		t.Fatalf("expected 1 self-heal event, got %d", hooks.selfHeals.Load())
	}
}

func TestExistsDoesNotBackfill(t *testing.T) {
	ctx := context.Background()
	fast := newMemHandle("fast")
	auth := memory.New(memory.Config{Name: "auth"})
	m := newTestManager(t, []handle.Handle{fast, auth}, nil)
	defer m.Close(ctx)

	raw, _ := c.JSON[user]{}.Encode(user{ID: "x"})
	sk := keys.Storage("k", "")
	_ = auth.Put(ctx, sk, raw, handle.Expiration{})

	ok, err := m.Exists(ctx, "k", "")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
	if fast.len() != 0 {
		t.Fatalf("Exists must not back-fill")
	}
	if ok, _ := m.Exists(ctx, "absent", ""); ok {
		t.Fatalf("Exists on absent key")
	}
}

func TestClearReachesEveryHandle(t *testing.T) {
	ctx := context.Background()
	fast := newMemHandle("fast")
	auth := memory.New(memory.Config{Name: "auth"})
	m := newTestManager(t, []handle.Handle{fast, auth}, nil)
	defer m.Close(ctx)

	_ = m.Put(ctx, Item[user]{Key: "a", Value: user{}})
	_ = m.Put(ctx, Item[user]{Key: "b", Value: user{}})
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if fast.len() != 0 || auth.Len() != 0 {
		t.Fatalf("Clear left entries behind: fast=%d auth=%d", fast.len(), auth.Len())
	}
}

func TestClearRegion(t *testing.T) {
	ctx := context.Background()
	fast := newMemHandle("fast")
	noEnum := regionlessHandle{h: newMemHandle("blind")}
	hooks := &countingHooks{}
	m := newTestManager(t, []handle.Handle{fast, noEnum}, func(o *Options[user]) { o.Hooks = hooks })
	defer m.Close(ctx)

	_ = m.Put(ctx, Item[user]{Key: "k1", Region: "A", Value: user{}})
	_ = m.Put(ctx, Item[user]{Key: "k2", Region: "A", Value: user{}})
	_ = m.Put(ctx, Item[user]{Key: "k1", Region: "B", Value: user{}})

	if err := m.ClearRegion(ctx, "A"); err != nil {
		t.Fatalf("ClearRegion: %v", err)
	}
	if fast.len() != 1 {
		t.Fatalf("region A should be gone from the enumerable handle, have %d entries", fast.len())
	}
	if hooks.regionSkips.Load() != 1 {
		t.Fatalf("non-enumerable handle should be reported skipped, got %d", hooks.regionSkips.Load())
	}
	if got, ok, _ := m.Get(ctx, "k1", "B"); !ok || got != (user{}) {
		t.Fatalf("region B must survive: ok=%v", ok)
	}
}

func TestGetOrLoadCollapsesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, []handle.Handle{memory.New(memory.Config{})}, nil)
	defer m.Close(ctx)

	var loads atomic.Int64
	load := func(context.Context) (user, Expiration, error) {
		loads.Add(1)
		time.Sleep(50 * time.Millisecond) // keep the flight open for everyone
		return user{ID: "loaded"}, Expiration{}, nil
	}

	const workers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]user, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, err := m.GetOrLoad(ctx, "k", "", load)
			if err != nil {
				t.Errorf("GetOrLoad: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Fatalf("expected a single collapsed load, got %d", n)
	}
	for i, v := range results {
		if v.ID != "loaded" {
			t.Fatalf("worker %d got %+v", i, v)
		}
	}

	// Now cached; no further loads.
	if _, err := m.GetOrLoad(ctx, "k", "", load); err != nil {
		t.Fatalf("GetOrLoad cached: %v", err)
	}
	if n := loads.Load(); n != 1 {
		t.Fatalf("cached read must not load again, got %d", n)
	}
}

func TestDisabledManagerNoops(t *testing.T) {
	ctx := context.Background()
	auth := memory.New(memory.Config{})
	m := newTestManager(t, []handle.Handle{auth}, func(o *Options[user]) { o.Disabled = true })
	defer m.Close(ctx)

	if m.Enabled() {
		t.Fatalf("manager should report disabled")
	}
	if err := m.Put(ctx, Item[user]{Key: "k", Value: user{ID: "x"}}); err != nil {
		t.Fatalf("disabled Put: %v", err)
	}
	if auth.Len() != 0 {
		t.Fatalf("disabled Put must not write")
	}
	if _, ok, err := m.Get(ctx, "k", ""); ok || err != nil {
		t.Fatalf("disabled Get: ok=%v err=%v", ok, err)
	}
	if _, err := m.Update(ctx, "k", "", func(u user) user { return u }); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("disabled Update: %v", err)
	}
}
