// Package cache provides the best-effort key/value cache used for embedding
// vectors and retrieval results. Keys are namespaced by a prefix and derived
// from a SHA-256 digest of the canonical JSON encoding of the logical key.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known prefixes.
const (
	PrefixEmbedding = "embedding"
	PrefixRAGSearch = "rag:search"
)

// Cache stores JSON-encodable values under a prefix. Implementations must be
// safe for concurrent use. Callers treat every error as a miss.
type Cache interface {
	// Get decodes the value stored for (prefix, key) into dst and reports
	// whether it was present.
	Get(ctx context.Context, prefix string, key any, dst any) (bool, error)

	// Set stores value for (prefix, key) with the given time-to-live.
	Set(ctx context.Context, prefix string, key any, value any, ttl time.Duration) error

	// Delete removes one entry.
	Delete(ctx context.Context, prefix string, key any) error

	// ClearPrefix removes every entry stored under prefix.
	ClearPrefix(ctx context.Context, prefix string) error
}

// Key derives the storage key: "<prefix>:<sha256 hex of canonical JSON>".
// encoding/json sorts map keys, so equal logical keys map to equal strings.
func Key(prefix string, key any) (string, error) {
	raw, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return prefix + ":" + hex.EncodeToString(sum[:]), nil
}

// Noop is a cache that never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any, any) (bool, error) { return false, nil }
func (Noop) Set(context.Context, string, any, any, time.Duration) error { return nil }
func (Noop) Delete(context.Context, string, any) error { return nil }
func (Noop) ClearPrefix(context.Context, string) error { return nil }
