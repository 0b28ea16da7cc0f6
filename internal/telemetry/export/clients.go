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
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// GoRedisEvaler wraps a real github.com/redis/go-redis/v9 client so it
// satisfies Evaler.
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler constructs an Evaler against addr, e.g. "127.0.0.1:6379".
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// LoggingProducer is a dependency-free Producer that logs what it would
// have sent. It lets an operator select the Kafka export path without a
// broker on hand, e.g. for local smoke-testing runnerd.
type LoggingProducer struct{}

func (LoggingProducer) Produce(_ context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	fmt.Printf("[kafka-export] topic=%s key=%s headers=%v value=%s\n", topic, string(key), headers, truncate(string(value), 256))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Options holds the knobs needed to build any of the concrete exporters.
type Options struct {
	RedisAddr      string
	RedisMarkerTTL time.Duration
	KafkaTopic     string
}
