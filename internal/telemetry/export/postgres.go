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

package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS tenant_counters (
//   tenant TEXT PRIMARY KEY,
//   admitted BIGINT NOT NULL DEFAULT 0,
//   denied BIGINT NOT NULL DEFAULT 0
// );
//
// CREATE TABLE IF NOT EXISTS applied_events (
//   event_id TEXT PRIMARY KEY,
//   tenant TEXT NOT NULL,
//   ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );
// CREATE INDEX IF NOT EXISTS idx_applied_events_tenant ON applied_events(tenant);

// PostgresExporter applies deltas idempotently within one transaction per
// batch, using an applied-events marker table to make retries a no-op.
type PostgresExporter struct {
	db                 *sql.DB
	createMissingRows  bool
	defaultTimeout     time.Duration
}

// NewPostgresExporter creates an exporter. If createMissingRows is true,
// it inserts a zeroed tenant_counters row on first sight of a tenant.
func NewPostgresExporter(db *sql.DB, createMissingRows bool) *PostgresExporter {
	return &PostgresExporter{db: db, createMissingRows: createMissingRows, defaultTimeout: 10 * time.Second}
}

func (p *PostgresExporter) ExportBatch(ctx context.Context, deltas []TenantDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if p.createMissingRows {
		for _, d := range deltas {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tenant_counters(tenant, admitted, denied) VALUES ($1, 0, 0) ON CONFLICT DO NOTHING`,
				d.Tenant); err != nil {
				return fmt.Errorf("insert tenant_counters(%s): %w", d.Tenant, err)
			}
		}
	}

	for _, d := range deltas {
		if d.EventID == "" {
			return errors.New("TenantDelta.EventID must be set")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO applied_events(event_id, tenant) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			d.EventID, d.Tenant)
		if err != nil {
			return fmt.Errorf("insert applied_events(%s): %w", d.EventID, err)
		}
		// A row count of zero means this event_id was already applied by an
		// earlier attempt: skip the counter update so a retry stays a no-op.
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected applied_events(%s): %w", d.EventID, err)
		} else if n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tenant_counters SET admitted = admitted + $2, denied = denied + $3 WHERE tenant = $1`,
			d.Tenant, d.Admitted, d.Denied); err != nil {
			return fmt.Errorf("update tenant_counters(%s): %w", d.Tenant, err)
		}
	}

	return tx.Commit()
}
