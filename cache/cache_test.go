package cache

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), ttl, 8, zap.NewNop())
	if err != nil {
		t.Fatalf("cache init failed: %v", err)
	}
	return c
}

func TestKeyStableUnderOrdering(t *testing.T) {
	a := Key("pdp", map[string]any{"features": []string{"age"}, "grid": 20})
	b := Key("pdp", map[string]any{"grid": 20, "features": []string{"age"}})
	if a != b {
		t.Errorf("key should not depend on map ordering: %s vs %s", a, b)
	}
	c := Key("pdp", map[string]any{"grid": 21, "features": []string{"age"}})
	if a == c {
		t.Error("different params must give different keys")
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	c := newCache(t, time.Hour)
	key := Key("explain_rf_summary", map[string]any{"n": 1})

	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache should miss")
	}
	c.Put(key, "explain_rf", []byte(`{"v":1}`))
	data, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if string(data) != `{"v":1}` {
		t.Errorf("payload corrupted: %s", data)
	}
}

func TestGetSurvivesMemoryEviction(t *testing.T) {
	c := newCache(t, time.Hour)
	key := Key("explain_rf_pdp", map[string]any{"n": 2})
	c.Put(key, "explain_rf", []byte(`{"v":2}`))

	// Drop the memory front; the disk copy must still serve.
	c.mem.Purge()
	data, ok := c.Get(key)
	if !ok {
		t.Fatal("disk entry should back the evicted memory entry")
	}
	if string(data) != `{"v":2}` {
		t.Errorf("payload corrupted: %s", data)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newCache(t, time.Millisecond)
	key := Key("explain_xgb_summary", map[string]any{"n": 3})
	c.Put(key, "explain_xgb", []byte(`{}`))
	c.mem.Purge()

	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatal("expired entry should miss")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := newCache(t, time.Hour)
	rfKey := Key("explain_rf_summary", map[string]any{"n": 1})
	xgbKey := Key("explain_xgb_summary", map[string]any{"n": 1})
	c.Put(rfKey, "explain_rf", []byte(`{}`))
	c.Put(xgbKey, "explain_xgb", []byte(`{}`))

	if removed := c.InvalidatePrefix("explain_rf"); removed != 1 {
		t.Errorf("expected 1 invalidated entry, got %d", removed)
	}
	if _, ok := c.Get(rfKey); ok {
		t.Error("invalidated entry still served")
	}
	if _, ok := c.Get(xgbKey); !ok {
		t.Error("unrelated entry was invalidated")
	}
}
