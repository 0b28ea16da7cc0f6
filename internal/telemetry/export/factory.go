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
)

// noopExporter discards every batch; it is the default when no export
// adapter is configured, so callers never have to nil-check an Exporter.
type noopExporter struct{}

func (noopExporter) ExportBatch(_ context.Context, _ []TenantDelta) error { return nil }

// Build constructs an Exporter from a string selector. Supported
// adapters: "" / "none" (default no-op), "redis", "kafka". "postgres"
// requires a *sql.DB the flag layer cannot construct on its own, so
// callers wanting Postgres export should call NewPostgresExporter
// directly instead of going through Build.
func Build(adapter string, opts Options) (Exporter, error) {
	switch adapter {
	case "", "none":
		return noopExporter{}, nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("export: redis adapter requires RedisAddr")
		}
		return NewRedisExporter(NewGoRedisEvaler(opts.RedisAddr), opts.RedisMarkerTTL), nil
	case "kafka":
		return NewKafkaExporter(LoggingProducer{}, opts.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("export: unknown adapter %q", adapter)
	}
}
