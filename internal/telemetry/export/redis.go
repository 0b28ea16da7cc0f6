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
	"errors"
	"fmt"
	"time"
)

// Evaler abstracts the minimal surface needed from a Redis client.
// Implementations may wrap github.com/redis/go-redis/v9 (Cmdable.Eval)
// or any equivalent.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisExporter applies deltas idempotently using a Lua script:
//  1. SETNX event:<tenant>:<event_id> 1
//  2. If set -> HINCRBY counter:<tenant> admitted/denied
//  3. EXPIRE the marker for leak protection
//
// If SETNX fails (already applied), the script is a no-op.
type RedisExporter struct {
	client    Evaler
	markerTTL time.Duration
}

// NewRedisExporter returns an exporter with the given client and marker
// TTL. markerTTL guards against unbounded growth of event markers;
// choose a duration comfortably larger than the longest retry window.
func NewRedisExporter(client Evaler, markerTTL time.Duration) *RedisExporter {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisExporter{client: client, markerTTL: markerTTL}
}

const redisDeltaScript = `
local counterKey = KEYS[1]
local markerKey = KEYS[2]
local field = ARGV[1]
local amount = tonumber(ARGV[2])
local ttlSeconds = tonumber(ARGV[3])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('HINCRBY', counterKey, field, amount)
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

func redisCounterKey(tenant string) string { return fmt.Sprintf("runner:counter:%s", tenant) }
func redisEventMarkerKey(tenant, eventID string) string {
	return fmt.Sprintf("runner:event:%s:%s", tenant, eventID)
}

// ExportBatch applies entries with one EVAL per field touched, so a
// delta that carries both an admitted and a denied component (unusual,
// but the type allows it) produces two idempotent updates sharing one
// EventID prefix.
func (r *RedisExporter) ExportBatch(ctx context.Context, deltas []TenantDelta) error {
	for _, d := range deltas {
		if d.EventID == "" {
			return errors.New("TenantDelta.EventID must be set")
		}
		if d.Admitted != 0 {
			if err := r.applyField(ctx, d.Tenant, d.EventID+":admitted", "admitted", d.Admitted); err != nil {
				return err
			}
		}
		if d.Denied != 0 {
			if err := r.applyField(ctx, d.Tenant, d.EventID+":denied", "denied", d.Denied); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *RedisExporter) applyField(ctx context.Context, tenant, eventID, field string, amount int64) error {
	keys := []string{redisCounterKey(tenant), redisEventMarkerKey(tenant, eventID)}
	args := []interface{}{field, amount, int(r.markerTTL.Seconds())}
	if _, err := r.client.Eval(ctx, redisDeltaScript, keys, args...); err != nil {
		return fmt.Errorf("redis eval tenant=%s event=%s: %w", tenant, eventID, err)
	}
	return nil
}
