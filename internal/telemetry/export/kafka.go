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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Producer is a minimal abstraction over a Kafka client.
//
// Requirements for a real implementation:
//   - Idempotent producer on (enable.idempotence=true)
//   - Use EventID as the message key (ExportBatch passes it as the key);
//     since every delta has its own EventID, messages of one tenant are
//     not kept in order relative to each other
//
// This package intentionally avoids importing a specific Kafka client
// library, the same way the commit-batch shape it is grounded on does.
type Producer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaExporter publishes admission deltas as a durable event stream for
// downstream analytics. It does not apply any state itself; consumers
// materialize counters from the stream.
type KafkaExporter struct {
	producer       Producer
	topic          string
	defaultTimeout time.Duration
}

// NewKafkaExporter builds an exporter publishing to topic.
func NewKafkaExporter(p Producer, topic string) *KafkaExporter {
	if topic == "" {
		topic = "runner-admission-events"
	}
	return &KafkaExporter{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

// deltaMessage is the serialized payload sent to Kafka.
type deltaMessage struct {
	Tenant   string `json:"tenant"`
	Admitted int64  `json:"admitted"`
	Denied   int64  `json:"denied"`
	EventID  string `json:"event_id"`
	TsUnixMs int64  `json:"ts_unix_ms"`
}

func (k *KafkaExporter) ExportBatch(ctx context.Context, deltas []TenantDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	nowMs := time.Now().UnixMilli()
	for _, d := range deltas {
		if d.EventID == "" {
			return errors.New("TenantDelta.EventID must be set")
		}
		msg := deltaMessage{
			Tenant:   d.Tenant,
			Admitted: d.Admitted,
			Denied:   d.Denied,
			EventID:  d.EventID,
			TsUnixMs: nowMs,
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal kafka message: %w", err)
		}
		headers := map[string]string{"content-type": "application/json"}
		if err := k.producer.Produce(ctx, k.topic, []byte(d.EventID), b, headers); err != nil {
			return fmt.Errorf("kafka produce tenant=%s event=%s: %w", d.Tenant, d.EventID, err)
		}
	}
	return nil
}
