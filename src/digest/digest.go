// Package digest wraps the 256-bit content hash used as the append-only
// accumulator everywhere in hashdiff: source file bytes, rule attributes,
// and the transitive mixing of dependency digests all flow through a
// Builder. Modelled on please's pluggable-hasher pattern in
// src/fs/hash.go (a hash.Hash fed incrementally then finalized), but fixed
// to a single algorithm since spec §3 calls for one 256-bit digest, not a
// configurable set of checkers.
package digest

import (
	"github.com/zeebo/blake3"
)

// Size is the length in bytes of a finalized digest.
const Size = 32

// A Builder accumulates bytes and produces a 256-bit digest. It is not
// safe for concurrent use; each rule/source digest computation owns its
// own Builder.
type Builder struct {
	h *blake3.Hasher
}

// New returns a fresh, empty Builder.
func New() *Builder {
	return &Builder{h: blake3.New()}
}

// Feed appends bytes to the accumulator. Per spec §5 ("these orderings
// are load-bearing"), callers must feed in the exact order spec §4
// prescribes for the digest being computed.
func (b *Builder) Feed(data []byte) *Builder {
	b.h.Write(data)
	return b
}

// FeedString is a convenience wrapper around Feed for string data.
func (b *Builder) FeedString(s string) *Builder {
	return b.Feed([]byte(s))
}

// Finalize returns the accumulated digest. The Builder remains usable
// afterwards (blake3 supports re-reading), but no caller in this codebase
// relies on that; each digest computation uses a fresh Builder.
func (b *Builder) Finalize() [Size]byte {
	var out [Size]byte
	b.h.Sum(out[:0])
	return out
}

// Of is a convenience one-shot digest of a single byte slice.
func Of(data []byte) [Size]byte {
	return New().Feed(data).Finalize()
}

// Empty is the digest of a Builder that has never been fed anything. It is
// the "design-fixed, not configurable" constant spec §4.3 step 1 and §4.3
// step 1's fine-grained-repo short-circuit both return.
var Empty = New().Finalize()
