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

package telemetry

import (
	"context"
	"fmt"
	"sync"

	"runner/internal/telemetry/export"
)

// TenantCounts is an admit/deny tally for one tenant.
type TenantCounts struct {
	Admitted int64
	Denied   int64
}

// InMemoryTenantObserver is the default "simple counter hook": per-tenant
// admit/deny counts held in process memory, good for a single runner
// instance with no external dependency. It never gates admission and
// carries no KV-reservation state, matching the Non-goals' carve-out.
type InMemoryTenantObserver struct {
	mu      sync.Mutex
	counts  map[string]*TenantCounts
	pending map[string]*TenantCounts
}

// NewInMemoryTenantObserver builds an empty observer.
func NewInMemoryTenantObserver() *InMemoryTenantObserver {
	return &InMemoryTenantObserver{
		counts:  make(map[string]*TenantCounts),
		pending: make(map[string]*TenantCounts),
	}
}

// ObserveAdmission records one outcome for tenant. An empty tenant is
// folded into a single "" bucket rather than rejected, since the caller
// (an HTTP handler) may not always have tenant identity available.
func (o *InMemoryTenantObserver) ObserveAdmission(tenant string, admitted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.counts[tenant]
	if !ok {
		c = &TenantCounts{}
		o.counts[tenant] = c
	}
	p, ok := o.pending[tenant]
	if !ok {
		p = &TenantCounts{}
		o.pending[tenant] = p
	}
	if admitted {
		c.Admitted++
		p.Admitted++
	} else {
		c.Denied++
		p.Denied++
	}
}

// Drain returns deltas accumulated since the previous Drain call and
// resets the pending window, satisfying export.Snapshotter so a
// background export.Loop can fan this observer's counts out to Redis,
// Kafka, or Postgres without the scheduler or HTTP layer knowing about
// any of those adapters.
func (o *InMemoryTenantObserver) Drain() []export.TenantDelta {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) == 0 {
		return nil
	}
	deltas := make([]export.TenantDelta, 0, len(o.pending))
	for tenant, p := range o.pending {
		if p.Admitted == 0 && p.Denied == 0 {
			continue
		}
		deltas = append(deltas, export.TenantDelta{
			Tenant:   tenant,
			Admitted: p.Admitted,
			Denied:   p.Denied,
			EventID:  export.NewEventID(),
		})
	}
	o.pending = make(map[string]*TenantCounts)
	return deltas
}

// Snapshot returns a copy of the current per-tenant counts.
func (o *InMemoryTenantObserver) Snapshot() map[string]TenantCounts {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]TenantCounts, len(o.counts))
	for k, v := range o.counts {
		out[k] = *v
	}
	return out
}

// RedisIncrementer abstracts the minimal surface needed from a Redis
// client: HINCRBY. Implementations may wrap github.com/redis/go-redis/v9's
// Cmdable, or any equivalent.
type RedisIncrementer interface {
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
}

// RedisTenantObserver shares per-tenant admit/deny counts across multiple
// runner processes by incrementing Redis hash fields. There is no
// idempotency marker here — unlike the committed-accounting use case this
// is grounded on, a double-counted observability event has no correctness
// consequence, only a cosmetic one.
type RedisTenantObserver struct {
	client RedisIncrementer
}

// NewRedisTenantObserver builds a Redis-backed observer.
func NewRedisTenantObserver(client RedisIncrementer) *RedisTenantObserver {
	return &RedisTenantObserver{client: client}
}

func tenantCounterKey(tenant string) string {
	if tenant == "" {
		tenant = "unknown"
	}
	return fmt.Sprintf("runner:tenant:%s", tenant)
}

// ObserveAdmission increments the admitted or denied field for tenant.
// Redis errors are swallowed: telemetry must never propagate back into
// the request path that admission already decided.
func (o *RedisTenantObserver) ObserveAdmission(tenant string, admitted bool) {
	field := "denied"
	if admitted {
		field = "admitted"
	}
	_, _ = o.client.HIncrBy(context.Background(), tenantCounterKey(tenant), field, 1)
}
