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

// Package scheduler owns the bounded request queue, the tick-driven batch
// loop, and the admission protocol that gates entry into that queue. It is
// the only package that touches both the KV manager and the prefix cache
// on a request's behalf.
//
// A request's life cycle is Admitted -> Queued -> Batched -> Dispatched ->
// Replied -> Dropped, with Failed-admission a terminal state that never
// enters the queue. The comments on Enqueue, tick, and dispatch mark each
// transition as it happens; there is no separate state-machine type, since
// nothing outside this file ever needs to observe an intermediate state.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"runner/internal/generate"
	"runner/pkg/backend"
	"runner/pkg/kv"
	"runner/pkg/prefixcache"
)

// Canonical tunables from the configuration contract.
const (
	DefaultTickInterval         = 2 * time.Millisecond
	DefaultBatchMax             = 32
	DefaultQueueCap             = 1024
	DefaultPrefixDiscountTokens = 32

	// bytesPerEstimatedToken is the heuristic bytes-per-token ratio for
	// English-like text used to size admission before real tokenization.
	bytesPerEstimatedToken = 4
)

// SentinelServerBusy is returned by Enqueue when admission is denied for
// insufficient KV capacity. It is the only non-empty sentinel value in the
// upstream contract; every other non-happy path collapses to "".
const SentinelServerBusy = "SERVER_BUSY: insufficient KV capacity"

// Config carries the scheduler's tunables. Zero values are replaced with
// the canonical defaults in Start.
type Config struct {
	TickInterval         time.Duration
	BatchMax             int
	QueueCap             int
	PrefixDiscountTokens int64
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchMax <= 0 {
		c.BatchMax = DefaultBatchMax
	}
	if c.QueueCap <= 0 {
		c.QueueCap = DefaultQueueCap
	}
	if c.PrefixDiscountTokens <= 0 {
		c.PrefixDiscountTokens = DefaultPrefixDiscountTokens
	}
	return c
}

// request is owned by the scheduler from admission until its reply is
// sent and its reservation released. respond is buffered to 1 so the
// dispatch goroutine's send never blocks on an abandoned caller.
type request struct {
	prompt      string
	maxTokens   int
	reservation *kv.Reservation
	respond     chan string
}

// Handle is a clonable reference to a running scheduler: the send side of
// its queue, shared observability atomics, and the KV manager and prefix
// cache it admits against. Handle is safe to share across goroutines by
// pointer; it is not meant to be copied by value because it embeds a
// sync.WaitGroup.
type Handle struct {
	cfg    Config
	queue  chan *request
	kv     *kv.Manager
	prefix *prefixcache.Cache

	queueDepth atomic.Int64
	lastBatch  atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Start spawns the tick loop against backend b and returns a Handle.
// kvMgr and prefix must outlive the Handle; callers should call Close
// before tearing either of them down.
func Start(b backend.Backend, kvMgr *kv.Manager, prefix *prefixcache.Cache, cfg Config) *Handle {
	cfg = cfg.withDefaults()
	h := &Handle{
		cfg:    cfg,
		queue:  make(chan *request, cfg.QueueCap),
		kv:     kvMgr,
		prefix: prefix,
		stop:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run(b)
	return h
}

// run is the single background task driving the tick. Once Close signals
// stop, it keeps ticking until the queue is empty and then exits, so
// requests already queued at shutdown still receive a reply instead of
// leaking their reservation.
func (h *Handle) run(b backend.Backend) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.tick(b)
		case <-h.stop:
			for len(h.queue) > 0 {
				h.tick(b)
			}
			return
		}
	}
}

// tick drains up to BatchMax pending requests in send order (Queued ->
// Batched) and dispatches them. A tick with nothing to drain is a no-op.
func (h *Handle) tick(b backend.Backend) {
	batch := make([]*request, 0, h.cfg.BatchMax)
drain:
	for len(batch) < h.cfg.BatchMax {
		select {
		case req := <-h.queue:
			batch = append(batch, req)
		default:
			break drain
		}
	}
	h.queueDepth.Store(int64(len(h.queue)))
	if len(batch) == 0 {
		return
	}
	h.lastBatch.Store(int64(len(batch)))
	h.dispatch(b, batch)
}

// dispatch spawns one concurrent work unit per request (Batched ->
// Dispatched). Work units have no ordering guarantee among themselves.
func (h *Handle) dispatch(b backend.Backend, batch []*request) {
	for _, req := range batch {
		h.wg.Add(1)
		go func(r *request) {
			defer h.wg.Done()
			text := generate.Once(b, r.prompt, r.maxTokens)
			r.respond <- text // buffered cap 1: never blocks, even if abandoned (Replied)
			r.reservation.Release()
		}(req)
	}
}

// QueueDepth is a snapshot of the number of requests still pending at the
// last tick.
func (h *Handle) QueueDepth() int64 { return h.queueDepth.Load() }

// LastBatchSize is the size of the most recently dispatched non-empty
// batch.
func (h *Handle) LastBatchSize() int64 { return h.lastBatch.Load() }

// KV exposes the KV manager this scheduler admits against, for
// observability scraping.
func (h *Handle) KV() *kv.Manager { return h.kv }

// Prefix exposes the prefix cache this scheduler admits against.
func (h *Handle) Prefix() *prefixcache.Cache { return h.prefix }

// Close signals the tick loop to stop after draining the queue and waits for
// every in-flight work unit to finish releasing its reservation. Safe to
// call more than once. The source this scheduler is modeled on had no
// shutdown protocol at all; skipping one here would defer KV manager
// teardown indefinitely whenever the background task outlives its owner.
func (h *Handle) Close(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stop) })
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue runs the admission protocol and, on success, blocks until the
// scheduler produces a reply or ctx is canceled.
//
// Admission: estimate prompt tokens from byte length, note the prompt's
// prefix fingerprint, apply the common-prefix discount, convert to
// blocks, and try to reserve them. A denial returns SentinelServerBusy
// without enqueuing anything (Failed-admission, terminal). A reservation
// that is granted but never makes it onto the queue (ctx canceled while
// sending) is released immediately; one that is queued but abandoned
// while awaiting reply is released later by the dispatch goroutine, so
// the leak bound in that case is one generation, not indefinite.
func Enqueue(ctx context.Context, h *Handle, prompt string, maxTokens int) string {
	estPromptTokens := int64(len(prompt)) / bytesPerEstimatedToken
	if estPromptTokens < 1 {
		estPromptTokens = 1
	}

	fp := prefixcache.HashPrefix(prompt)
	h.prefix.Note(fp)

	total := estPromptTokens + int64(maxTokens)
	if h.prefix.IsCommon(fp) {
		total -= h.cfg.PrefixDiscountTokens
		if total < 0 {
			total = 0
		}
	}

	reservation, ok := h.kv.TryReserve(h.kv.TokensToBlocks(total))
	if !ok {
		return SentinelServerBusy
	}

	req := &request{
		prompt:      prompt,
		maxTokens:   maxTokens,
		reservation: reservation,
		respond:     make(chan string, 1),
	}

	select {
	case h.queue <- req: // Admitted -> Queued
	case <-ctx.Done():
		reservation.Release()
		return ""
	case <-h.stop:
		reservation.Release()
		return ""
	}

	select {
	case text := <-req.respond: // Dispatched -> Replied
		return text
	case <-ctx.Done():
		return ""
	}
}
