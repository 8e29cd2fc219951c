// Package controlplane exposes the gateway's HTTP operational surface:
// health, metrics, config echo, and on-demand probe endpoints. The
// server hardening (explicit timeouts, a header size limit) and the
// Prometheus wiring are grounded on
// grimm-is-flywall/internal/api/server.go.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenhouse-systems/fog-gateway/internal/config"
	"github.com/greenhouse-systems/fog-gateway/internal/probe"
	"github.com/greenhouse-systems/fog-gateway/internal/telemetry"
	"github.com/greenhouse-systems/fog-gateway/internal/validator"
)

// ServerConfig holds HTTP server hardening settings, mirroring the
// teacher pack's DefaultServerConfig shape.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// DefaultServerConfig returns conservative timeouts appropriate for an
// edge gateway serving a small operator-facing surface.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
}

// HealthSource reports liveness for one gateway sub-component.
type HealthSource func() (healthy bool, detail string)

// Metrics holds the Prometheus collectors the control plane exposes.
type Metrics struct {
	TelemetryAccepted prometheus.Counter
	TelemetryRejected prometheus.Counter
	ForwardSuccess    prometheus.Counter
	ForwardFailure    prometheus.Counter
	ProbeLatency      prometheus.Histogram
}

// NewMetrics registers the gateway's counters against a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TelemetryAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fog_telemetry_accepted_total",
			Help: "Telemetry envelopes that passed validation.",
		}),
		TelemetryRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "fog_telemetry_rejected_total",
			Help: "Telemetry envelopes rejected by a security gate.",
		}),
		ForwardSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "fog_cloud_forward_success_total",
			Help: "Records successfully forwarded to the cloud endpoint.",
		}),
		ForwardFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "fog_cloud_forward_failure_total",
			Help: "Records that could not be forwarded after retries.",
		}),
		ProbeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fog_probe_latency_seconds",
			Help:    "Latency of CoAP-style sensor probes.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Server is the operator-facing HTTP surface.
type Server struct {
	cfg        *config.Config
	registry   *prometheus.Registry
	metrics    *Metrics
	health     map[string]HealthSource
	probeClnt  *probe.Client
	validate   *validator.Validator
	enqueue    func(*telemetry.Processed)
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New builds the control plane's HTTP handler. enqueue is called for
// every probe-path record that passes validation, so it reaches the
// forwarder identically to broker-path records.
func New(cfg *config.Config, health map[string]HealthSource, probeClnt *probe.Client, v *validator.Validator, enqueue func(*telemetry.Processed), logger *slog.Logger) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:       cfg,
		registry:  reg,
		metrics:   NewMetrics(reg),
		health:    health,
		probeClnt: probeClnt,
		validate:  v,
		enqueue:   enqueue,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Metrics exposes the registered collectors so the broker and forwarder
// can increment them.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.handleMetricsJSON)
	s.mux.Handle("GET /metrics/prom", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /config", s.handleConfig)
	s.mux.HandleFunc("POST /coap/poll", s.handlePoll)
	s.mux.HandleFunc("GET /sensors/{id}/current", s.handleSensorCurrent)
}

// Handler builds the hardened *http.Server wrapping this Server's mux,
// per DefaultServerConfig.
func (s *Server) Handler(addr string, scfg ServerConfig) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: scfg.ReadHeaderTimeout,
		ReadTimeout:       scfg.ReadTimeout,
		WriteTimeout:      scfg.WriteTimeout,
		IdleTimeout:       scfg.IdleTimeout,
		MaxHeaderBytes:    scfg.MaxHeaderBytes,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := make(map[string]map[string]any, len(s.health))
	for name, check := range s.health {
		ok, detail := check()
		components[name] = map[string]any{"healthy": ok, "detail": detail}
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]any{
		"status":     statusLabel(status),
		"components": components,
	})
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeJSON(w, http.StatusOK, map[string]any{
		"goroutines":    runtime.NumGoroutine(),
		"heap_alloc_mb": float64(mem.HeapAlloc) / (1 << 20),
		"sys_mb":        float64(mem.Sys) / (1 << 20),
		"gc_cycles":     mem.NumGC,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mqtt_host":           s.cfg.MQTT.Host,
		"mqtt_port":           s.cfg.MQTT.Port,
		"cloud_url":           s.cfg.Cloud.URL,
		"rate_limit_per_min":  s.cfg.RateLimit.MessagesPerMinute,
		"rate_limit_algo":     s.cfg.RateLimit.Algorithm,
		"timestamp_window_s":  s.cfg.Security.TimestampWindow.Seconds(),
		"disabled_gates":      s.cfg.DisabledGates(),
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	targets := make([]probe.Target, 0, len(s.cfg.ProbeSensors))
	for _, sensor := range s.cfg.ProbeSensors {
		targets = append(targets, probe.Target{SensorID: sensor.ID, Host: sensor.Host, Port: sensor.Port})
	}

	results := s.probeClnt.PollAll(ctx, targets)
	writeJSON(w, http.StatusOK, map[string]any{"results": s.validateProbeResults(results)})
}

func (s *Server) handleSensorCurrent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var target *probe.Target
	for _, sensor := range s.cfg.ProbeSensors {
		if sensor.ID == id {
			target = &probe.Target{SensorID: sensor.ID, Host: sensor.Host, Port: sensor.Port}
			break
		}
	}
	if target == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown sensor"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	results := s.probeClnt.PollAll(ctx, []probe.Target{*target})
	writeJSON(w, http.StatusOK, s.validateProbeResults(results)[0])
}

func (s *Server) validateProbeResults(results []probe.PollResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		entry := map[string]any{"sensor_id": r.SensorID}
		if r.Err != nil {
			entry["ok"] = false
			entry["error"] = r.Err.Error()
			out = append(out, entry)
			continue
		}

		env, err := telemetry.ParseEnvelope(r.Body)
		if err != nil {
			entry["ok"] = false
			entry["error"] = fmt.Sprintf("malformed response: %v", err)
			out = append(out, entry)
			continue
		}

		processed, outcome := s.validate.Validate(env, true)
		if outcome.Rejected {
			entry["ok"] = false
			entry["error"] = outcome.Reason
			out = append(out, entry)
			continue
		}

		if s.enqueue != nil {
			s.enqueue(processed)
		}

		entry["ok"] = true
		entry["value"] = processed.Value
		entry["unit"] = processed.Unit
		entry["timestamp"] = processed.Timestamp.Format(time.RFC3339)
		out = append(out, entry)
	}
	return out
}

func statusLabel(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
