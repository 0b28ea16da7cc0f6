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

// Package kv implements the paged KV-cache manager: admission-grade
// accounting of a bounded pool of fixed-size cache blocks. A Manager hands
// out scoped Reservations whose release is the only way used-block count
// ever decreases, so capacity can never be oversubscribed regardless of how
// many goroutines call TryReserve concurrently.
package kv

import (
	"sync"
	"sync/atomic"
)

// DefaultTokensPerBlock is the canonical number of tokens a single block
// holds state for.
const DefaultTokensPerBlock = 32

// BytesPerBlock is the fixed per-block byte size used to derive capacity
// from a configured byte budget.
const BytesPerBlock = 4096

// Config carries the tunables that shape a Manager's admission granularity.
type Config struct {
	// CapacityBytes is the total KV-cache byte budget; capacity in blocks
	// is CapacityBytes / BytesPerBlock.
	CapacityBytes int64
	// TokensPerBlock overrides DefaultTokensPerBlock when positive.
	TokensPerBlock int
}

func (c Config) withDefaults() Config {
	if c.TokensPerBlock <= 0 {
		c.TokensPerBlock = DefaultTokensPerBlock
	}
	return c
}

// Manager is a bounded pool of fixed-size cache blocks. Its only mutable
// state is an atomic used-block counter and a free-list sketch consulted
// only by Defragment; neither exposes per-block identity.
type Manager struct {
	capacityBlocks int64
	tokensPerBlock int64
	usedBlocks     atomic.Int64
	spillToHost    atomic.Bool

	// freeListMu protects freeList, a simplistic record of released
	// reservation sizes. It is never read on the admission hot path.
	freeListMu sync.Mutex
	freeList   []int64
}

// NewManager builds a Manager with capacity derived from cfg.CapacityBytes.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		capacityBlocks: cfg.CapacityBytes / BytesPerBlock,
		tokensPerBlock: int64(cfg.TokensPerBlock),
	}
}

// TokensToBlocks ceiling-divides a token count into blocks.
func (m *Manager) TokensToBlocks(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	return (tokens + m.tokensPerBlock - 1) / m.tokensPerBlock
}

// UsedBlocks is a snapshot read of the current used-block count.
func (m *Manager) UsedBlocks() int64 { return m.usedBlocks.Load() }

// CapacityBlocks is the fixed total capacity for this Manager's lifetime.
func (m *Manager) CapacityBlocks() int64 { return m.capacityBlocks }

// TryReserve attempts to atomically claim blocks against capacity. On
// success it returns a Reservation whose Release gives the blocks back
// exactly once; on failure (insufficient capacity) it returns ok=false and
// a nil Reservation. A zero-block request always succeeds and is a no-op.
//
// The loop below is the only serialization point on the admission hot
// path: a compare-and-swap retried until it wins or capacity is exhausted.
// Go's atomic load and compare-and-swap are both sequentially consistent.
func (m *Manager) TryReserve(blocks int64) (*Reservation, bool) {
	if blocks < 0 {
		return nil, false
	}
	if blocks == 0 {
		return &Reservation{manager: m, blocks: 0}, true
	}
	for {
		used := m.usedBlocks.Load()
		next := used + blocks
		if next > m.capacityBlocks {
			return nil, false
		}
		if m.usedBlocks.CompareAndSwap(used, next) {
			return &Reservation{manager: m, blocks: blocks}, true
		}
	}
}

// release subtracts blocks from the used count exactly once per
// Reservation; callers reach this only through Reservation.Release.
func (m *Manager) release(blocks int64) {
	if blocks == 0 {
		return
	}
	m.usedBlocks.Add(-blocks)
	m.freeListMu.Lock()
	m.freeList = append(m.freeList, blocks)
	m.freeListMu.Unlock()
}

// Defragment discards the free-list sketch. It is a no-op on accounting —
// used blocks and capacity are unaffected — since blocks carry no identity
// to relocate.
func (m *Manager) Defragment() {
	m.freeListMu.Lock()
	m.freeList = m.freeList[:0]
	m.freeListMu.Unlock()
}

// EnableSpillToHost sets a flag reserved for future host-memory spill
// logic. It has no effect on admission today.
func (m *Manager) EnableSpillToHost(enable bool) {
	m.spillToHost.Store(enable)
}

// SpillToHostEnabled reports the flag set by EnableSpillToHost.
func (m *Manager) SpillToHostEnabled() bool {
	return m.spillToHost.Load()
}

// Reservation is a scoped claim on a number of blocks against a specific
// Manager. It contains a sync.Once, which itself embeds a mutex, so `go
// vet`'s copylocks check flags any attempt to copy a Reservation by value —
// the type is meant to be held by pointer and its ownership transferred,
// never duplicated. Release is idempotent: a second call is a safe no-op,
// so double-release is impossible by construction rather than by caller
// discipline.
type Reservation struct {
	manager *Manager
	blocks  int64
	once    sync.Once
}

// Blocks reports the number of blocks this reservation holds.
func (r *Reservation) Blocks() int64 {
	if r == nil {
		return 0
	}
	return r.blocks
}

// Release returns the reservation's blocks to its Manager. Safe to call
// from any goroutine, safe to call more than once (only the first call has
// an effect), and safe to call on a nil Reservation.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if r.manager != nil {
			r.manager.release(r.blocks)
		}
	})
}
