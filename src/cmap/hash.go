package cmap

import "github.com/cespare/xxhash/v2"

// StringHasher returns a shard-hash function for string keys, suitable for
// passing to New. Labels are plain strings, so this is what the engine's
// label-keyed caches use.
func StringHasher(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}
