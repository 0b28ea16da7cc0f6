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

// Package main provides the entry point for runnerd: a process hosting
// the paged-KV admission scheduler behind an HTTP completions endpoint.
//
// This file is responsible for orchestrating the whole service:
//  1. Initializing the KV manager, prefix cache, and backend.
//  2. Starting the scheduler's tick loop.
//  3. Starting the HTTP server to handle live traffic.
//  4. Managing graceful shutdown so in-flight requests still get replies.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"runner/internal/api"
	"runner/internal/scheduler"
	"runner/internal/telemetry"
	"runner/internal/telemetry/export"
	"runner/pkg/backend"
	"runner/pkg/kv"
	"runner/pkg/prefixcache"
)

// redisIncrementer adapts go-redis's *redis.IntCmd-returning Cmdable to
// the plain (int64, error) shape telemetry.RedisIncrementer expects, so
// that package never has to import go-redis itself.
type redisIncrementer struct {
	client *redis.Client
}

func (r redisIncrementer) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return r.client.HIncrBy(ctx, key, field, incr).Result()
}

func main() {
	kvCapacityBytes := flag.Int64("kv_capacity_bytes", 64*1024*1024, "Total bytes available to the paged KV manager")
	tokensPerBlock := flag.Int("tokens_per_block", kv.DefaultTokensPerBlock, "Tokens represented by one KV block")
	tickMS := flag.Int64("tick_ms", int64(scheduler.DefaultTickInterval/time.Millisecond), "Scheduler tick interval in milliseconds")
	batchMax := flag.Int("batch_max", scheduler.DefaultBatchMax, "Maximum requests dispatched per tick")
	queueCap := flag.Int("queue_cap", scheduler.DefaultQueueCap, "Bounded queue capacity; Enqueue blocks or is canceled by ctx once full")
	prefixDiscountTokens := flag.Int64("prefix_discount_tokens", scheduler.DefaultPrefixDiscountTokens, "Tokens discounted from admission for a prompt seen as common")
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address (e.g., :8080)")
	modelPath := flag.String("model", "", "Path to a model file; empty uses the byte-level mock backend")
	redisAddr := flag.String("redis_addr", "", "If non-empty, back per-tenant admission telemetry with synchronous Redis counters instead of in-memory")
	exportAdapter := flag.String("export_adapter", "", "If non-empty (redis, kafka), periodically batch-export in-memory tenant counts; ignored when redis_addr is set")
	exportInterval := flag.Duration("export_interval", 15*time.Second, "How often the export loop drains and flushes tenant counts")
	exportRedisAddr := flag.String("export_redis_addr", "", "Redis address for the redis export adapter (separate from redis_addr, which selects synchronous per-request counters)")
	kafkaTopic := flag.String("export_kafka_topic", "", "Kafka topic for the kafka export adapter")
	flag.Parse()

	if env := os.Getenv("RUNNER_MODEL"); env != "" {
		*modelPath = env
	}
	if env := os.Getenv("RUNNER_HTTP_ADDR"); env != "" {
		*httpAddr = env
	}

	b := backend.Backend(backend.NewMock())
	if *modelPath != "" {
		if _, err := b.LoadModel(*modelPath, backend.LoadParams{}); err != nil {
			log.Fatalf("loading model %s: %v", *modelPath, err)
		}
	}

	kvMgr := kv.NewManager(kv.Config{
		CapacityBytes:  *kvCapacityBytes,
		TokensPerBlock: *tokensPerBlock,
	})
	prefix := prefixcache.New()

	sched := scheduler.Start(b, kvMgr, prefix, scheduler.Config{
		TickInterval:         time.Duration(*tickMS) * time.Millisecond,
		BatchMax:             *batchMax,
		QueueCap:             *queueCap,
		PrefixDiscountTokens: *prefixDiscountTokens,
	})

	metrics := telemetry.NewMetrics(nil)
	go sampleMetricsPeriodically(sched, metrics)

	var observer api.TenantObserver
	var exportLoop *export.Loop
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		observer = telemetry.NewRedisTenantObserver(redisIncrementer{rdb})
	} else {
		mem := telemetry.NewInMemoryTenantObserver()
		observer = mem
		if *exportAdapter != "" {
			exporter, err := export.Build(*exportAdapter, export.Options{
				RedisAddr:  *exportRedisAddr,
				KafkaTopic: *kafkaTopic,
			})
			if err != nil {
				log.Fatalf("building export adapter %s: %v", *exportAdapter, err)
			}
			exportLoop = export.NewLoop(mem, exporter, *exportInterval)
			exportLoop.Start()
		}
	}

	apiServer := api.NewServer(sched, metrics, observer)
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("runnerd listening on %s\n", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v\n", *httpAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nshutting down runnerd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sched.Close(shutdownCtx); err != nil {
		log.Printf("scheduler did not drain in time: %v", err)
	}
	if exportLoop != nil {
		exportLoop.Stop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}

	fmt.Println("runnerd stopped.")
}

// sampleMetricsPeriodically keeps the Prometheus gauges current between
// scrapes; the scheduler itself only exposes raw atomics, never formatted
// metrics, so something external has to do the copying.
func sampleMetricsPeriodically(sched *scheduler.Handle, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		metrics.Sample(sched)
	}
}
