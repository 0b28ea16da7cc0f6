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

// Package export provides idempotent, durable fan-out for per-tenant
// admission telemetry: the same Redis/Kafka/Postgres commit-batch shape a
// persistence-sensitive counter needs, pointed at tenant admit/deny
// deltas instead of state the core depends on. Nothing here is read back
// by the scheduler or the KV manager; it is a one-way export for
// dashboards and offline analysis.
package export

import "context"

// TenantDelta is one idempotent update to a tenant's durable admit/deny
// tally.
//
//   - Tenant: the logical tenant key this delta applies to.
//   - Admitted: delta to the admitted counter (usually 0 or 1).
//   - Denied: delta to the denied counter (usually 0 or 1).
//   - EventID: a globally unique idempotency key. Re-using the same
//     EventID for a retried export makes the operation a no-op.
type TenantDelta struct {
	Tenant   string
	Admitted int64
	Denied   int64
	EventID  string
}

// Exporter applies a batch of deltas idempotently: retrying a batch after
// a crash or a timeout must not double-count any EventID.
type Exporter interface {
	ExportBatch(ctx context.Context, deltas []TenantDelta) error
}
