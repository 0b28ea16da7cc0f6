// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prefixcache implements cheap, non-cryptographic reuse detection
// over prompt prefixes: a fingerprint, an occurrence counter, and an
// optional token-sequence memo. None of it sits on the admission hot path,
// so interior mutability is a plain mutex rather than atomics.
package prefixcache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// maxPrefixBytes bounds how much of a prompt participates in the
// fingerprint, per the admission contract.
const maxPrefixBytes = 256

// defaultTokenMemoSize bounds the token memoization LRU so a process
// handling many distinct prompts never grows this cache unboundedly.
const defaultTokenMemoSize = 4096

// commonThreshold is the occurrence count at which a fingerprint is
// considered common.
const commonThreshold = 2

// Fingerprint is a 64-bit, non-cryptographic hash identifying a prompt
// prefix. Purpose is heuristic reuse detection, not content equivalence.
type Fingerprint uint64

// HashPrefix hashes the first up-to-256 bytes of text. Stable within a
// process; not meant to be stable across processes or versions.
func HashPrefix(text string) Fingerprint {
	b := []byte(text)
	if len(b) > maxPrefixBytes {
		b = b[:maxPrefixBytes]
	}
	return Fingerprint(xxhash.Sum64(b))
}

// Cache maps fingerprints to occurrence counts and, optionally, to the
// tokenized form of the prefix they were computed from.
type Cache struct {
	mu     sync.Mutex
	counts map[Fingerprint]int64

	// tokens is a bounded LRU; producers and consumers of PutTokens/
	// GetTokens tolerate absence, so eviction is never a correctness
	// concern, only a cache-hit-rate one.
	tokens *lru.Cache[Fingerprint, []int32]
}

// New creates an empty Cache.
func New() *Cache {
	tokens, err := lru.New[Fingerprint, []int32](defaultTokenMemoSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultTokenMemoSize never is.
		panic(err)
	}
	return &Cache{
		counts: make(map[Fingerprint]int64),
		tokens: tokens,
	}
}

// Note increments the occurrence count for h and returns the new count.
// Counts are monotonically non-decreasing.
func (c *Cache) Note(h Fingerprint) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[h]++
	return c.counts[h]
}

// IsCommon reports whether h has been observed at least twice.
func (c *Cache) IsCommon(h Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[h] >= commonThreshold
}

// Count returns the current occurrence count for h, for observability.
func (c *Cache) Count(h Fingerprint) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[h]
}

// PutTokens memoizes a prompt's tokenization against its fingerprint.
func (c *Cache) PutTokens(h Fingerprint, tokens []int32) {
	c.tokens.Add(h, tokens)
}

// GetTokens retrieves a memoized tokenization, if present.
func (c *Cache) GetTokens(h Fingerprint) ([]int32, bool) {
	return c.tokens.Get(h)
}
