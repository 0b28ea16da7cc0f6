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

// Package api implements the public-facing HTTP server: a single
// completions endpoint over the scheduler, a health probe, and a
// Prometheus scrape endpoint. It holds no admission or generation logic
// of its own — every request it serves is a thin translation to and from
// scheduler.Enqueue.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"runner/internal/scheduler"
	"runner/internal/telemetry"
)

// Server wires the scheduler and the optional telemetry sink to HTTP.
type Server struct {
	sched    *scheduler.Handle
	metrics  *telemetry.Metrics
	observer TenantObserver
}

// TenantObserver is the ambient "simple counter hook" the core's Non-goals
// reserve for a higher layer. It never gates admission; Server calls it
// purely for side-effecting telemetry after the scheduler has already
// decided the outcome.
type TenantObserver interface {
	ObserveAdmission(tenant string, admitted bool)
}

// NewServer builds a Server. observer may be nil, in which case tenant
// telemetry is skipped.
func NewServer(sched *scheduler.Handle, metrics *telemetry.Metrics, observer TenantObserver) *Server {
	return &Server{sched: sched, metrics: metrics, observer: observer}
}

// RegisterRoutes mounts the server's handlers on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/completions", s.handleCompletions)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
}

type completionRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Tenant    string `json:"tenant,omitempty"`
}

type completionResponse struct {
	Text string `json:"text"`
}

// handleCompletions is the only request path that touches the scheduler.
// It maps scheduler.SentinelServerBusy to 503; every other outcome,
// including an empty reply from an abandoned or failed generation, is a
// 200 with possibly empty text, per the upstream contract.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}

	text := scheduler.Enqueue(r.Context(), s.sched, req.Prompt, req.MaxTokens)

	admitted := text != scheduler.SentinelServerBusy
	if s.metrics != nil {
		s.metrics.ObserveAdmission(admitted)
		s.metrics.ObserveReply(text)
	}
	if s.observer != nil {
		s.observer.ObserveAdmission(req.Tenant, admitted)
	}

	if text == scheduler.SentinelServerBusy {
		http.Error(w, text, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(completionResponse{Text: text})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ListenAndServe starts the HTTP server on addr with the same timeout
// posture the rate limiter API used: short read/write timeouts since
// every handler here is either a bounded Enqueue call or a cheap scrape.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return httpServer.ListenAndServe()
}
