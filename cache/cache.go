// Package cache persists expensive explanation payloads on disk with a
// small in-memory LRU in front.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

type meta struct {
	Timestamp time.Time `json:"timestamp"`
	Prefix    string    `json:"prefix"`
}

// Cache stores JSON payloads keyed by an md5 of the request parameters.
// Each entry has a meta sidecar carrying its creation time and prefix so
// entries can expire by TTL and be invalidated in groups.
type Cache struct {
	dir string
	ttl time.Duration
	mem *lru.Cache[string, []byte]
	log *zap.Logger
}

func New(dir string, ttl time.Duration, memEntries int, log *zap.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if memEntries <= 0 {
		memEntries = 64
	}
	mem, err := lru.New[string, []byte](memEntries)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{dir: dir, ttl: ttl, mem: mem, log: log}, nil
}

// Key derives a stable cache key from a prefix and request parameters.
// Parameters are serialized in sorted key order before hashing.
func Key(prefix string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(prefix)
	for _, k := range keys {
		v, _ := json.Marshal(params[k])
		fmt.Fprintf(&b, "|%s=%s", k, v)
	}
	sum := md5.Sum([]byte(b.String()))
	return prefix + "_" + hex.EncodeToString(sum[:])
}

// Get returns the cached payload, or false when absent or expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	if data, ok := c.mem.Get(key); ok {
		return data, true
	}

	metaData, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return nil, false
	}
	var m meta
	if err := json.Unmarshal(metaData, &m); err != nil {
		return nil, false
	}
	if time.Since(m.Timestamp) > c.ttl {
		c.remove(key)
		return nil, false
	}

	data, err := os.ReadFile(c.dataPath(key))
	if err != nil {
		return nil, false
	}
	c.mem.Add(key, data)
	return data, true
}

// Put stores a payload under the key, tagging it with the prefix used
// for group invalidation.
func (c *Cache) Put(key, prefix string, data []byte) {
	metaData, err := json.Marshal(meta{Timestamp: time.Now().UTC(), Prefix: prefix})
	if err != nil {
		return
	}
	if err := os.WriteFile(c.dataPath(key), data, 0o644); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := os.WriteFile(c.metaPath(key), metaData, 0o644); err != nil {
		c.log.Warn("cache meta write failed", zap.String("key", key), zap.Error(err))
		os.Remove(c.dataPath(key))
		return
	}
	c.mem.Add(key, data)
}

// InvalidatePrefix removes every entry whose prefix matches, both the
// memory front and the disk artifacts.
func (c *Cache) InvalidatePrefix(prefix string) int {
	for _, key := range c.mem.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.mem.Remove(key)
		}
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		key := strings.TrimSuffix(name, ".meta.json")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		c.remove(key)
		removed++
	}
	if removed > 0 {
		c.log.Info("cache invalidated", zap.String("prefix", prefix), zap.Int("entries", removed))
	}
	return removed
}

func (c *Cache) remove(key string) {
	c.mem.Remove(key)
	os.Remove(c.dataPath(key))
	os.Remove(c.metaPath(key))
}

func (c *Cache) dataPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cache) metaPath(key string) string {
	return filepath.Join(c.dir, key+".meta.json")
}
