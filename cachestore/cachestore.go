package cachestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Get returns an empty string (and no error) on a miss.
type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

type Lookup int

const (
	Miss Lookup = iota
	Hit
	// the upstream service was asked and did not know the key
	Absent
)

func (l Lookup) String() string {
	switch l {
	case Hit:
		return "hit"
	case Absent:
		return "absent"
	default:
		return "miss"
	}
}

// stored in place of a JSON document for keys known to be absent upstream
const absentMarker = "!absent"

// keys longer than this (long vanities, post IDs from odd clients) are hashed
const maxKeyLen = 128

func storageKey(name, key string) string {
	if len(key) > maxKeyLen {
		hi, lo := murmur3.Sum128([]byte(key))
		key = fmt.Sprintf("#%016x%016x", hi, lo)
	}
	return name + "/" + key
}

// Decodes a cached JSON document into out. out is only written on Hit.
func GetJSON(ctx context.Context, cs CacheStore, name, key string, out any) (Lookup, error) {
	raw, err := cs.Get(ctx, name, key)
	if err != nil {
		return Miss, err
	}
	switch raw {
	case "":
		return Miss, nil
	case absentMarker:
		return Absent, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return Miss, fmt.Errorf("corrupt cache entry %s: %w", name, err)
	}
	return Hit, nil
}

func SetJSON(ctx context.Context, cs CacheStore, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return cs.Set(ctx, name, key, string(b))
}

// Records that the upstream service does not know key, so repeated lookups
// are answered from the cache until the entry expires.
func MarkAbsent(ctx context.Context, cs CacheStore, name, key string) error {
	return cs.Set(ctx, name, key, absentMarker)
}
