package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultMaxEntries bounds the in-process cache.
const DefaultMaxEntries = 10_000

// Memory is an in-process cache backed by ristretto with per-entry TTL.
type Memory struct {
	store *ristretto.Cache[string, []byte]

	// ristretto cannot enumerate keys, so ClearPrefix relies on this index.
	mu    sync.Mutex
	index map[string]map[string]struct{} // prefix -> full keys
}

// NewMemory creates an in-process cache holding up to maxEntries values.
func NewMemory(maxEntries int64) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	// Cost is an entry count, not bytes.
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &Memory{store: store, index: make(map[string]map[string]struct{})}, nil
}

func (m *Memory) Get(_ context.Context, prefix string, key any, dst any) (bool, error) {
	k, err := Key(prefix, key)
	if err != nil {
		return false, err
	}
	raw, ok := m.store.Get(k)
	if !ok {
		m.forgetIfGone(prefix, k)
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached value: %w", err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, prefix string, key any, value any, ttl time.Duration) error {
	k, err := Key(prefix, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if !m.store.SetWithTTL(k, raw, 1, ttl) {
		return nil
	}
	// Make the write visible to the next Get.
	m.store.Wait()

	m.mu.Lock()
	keys, ok := m.index[prefix]
	if !ok {
		keys = make(map[string]struct{})
		m.index[prefix] = keys
	}
	keys[k] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, prefix string, key any) error {
	k, err := Key(prefix, key)
	if err != nil {
		return err
	}
	m.store.Del(k)
	m.forget(prefix, k)
	return nil
}

func (m *Memory) ClearPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p, keys := range m.index {
		if p != prefix && !strings.HasPrefix(p, prefix+":") {
			continue
		}
		for k := range keys {
			m.store.Del(k)
		}
		delete(m.index, p)
	}
	return nil
}

// Close stops ristretto's background goroutines.
func (m *Memory) Close() {
	m.store.Close()
}

func (m *Memory) forget(prefix, k string) {
	m.mu.Lock()
	m.unindex(prefix, k)
	m.mu.Unlock()
}

// forgetIfGone drops k from the index only if the store still has no value
// for it. A concurrent Set may have stored k after the caller's miss, and
// Set indexes under mu, so the check is made under mu too.
func (m *Memory) forgetIfGone(prefix, k string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, live := m.store.Get(k); live {
		return
	}
	m.unindex(prefix, k)
}

func (m *Memory) unindex(prefix, k string) {
	keys, ok := m.index[prefix]
	if !ok {
		return
	}
	delete(keys, k)
	if len(keys) == 0 {
		delete(m.index, prefix)
	}
}
