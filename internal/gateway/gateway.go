// Package gateway wires the broker, validator, forwarder, probe client,
// and control plane into one supervised process, grounded on the
// teacher's daemon-loop shape (main.go) and generalized to the fan-out
// style of golang.org/x/sync/errgroup used across the example pack.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/greenhouse-systems/fog-gateway/internal/aead"
	"github.com/greenhouse-systems/fog-gateway/internal/broker"
	"github.com/greenhouse-systems/fog-gateway/internal/config"
	"github.com/greenhouse-systems/fog-gateway/internal/controlplane"
	"github.com/greenhouse-systems/fog-gateway/internal/fogevents"
	"github.com/greenhouse-systems/fog-gateway/internal/freshness"
	"github.com/greenhouse-systems/fog-gateway/internal/noncecache"
	"github.com/greenhouse-systems/fog-gateway/internal/probe"
	"github.com/greenhouse-systems/fog-gateway/internal/ratelimit"
	"github.com/greenhouse-systems/fog-gateway/internal/signing"
	"github.com/greenhouse-systems/fog-gateway/internal/svctoken"
	"github.com/greenhouse-systems/fog-gateway/internal/telemetry"
	"github.com/greenhouse-systems/fog-gateway/internal/upload"
	"github.com/greenhouse-systems/fog-gateway/internal/validator"
)

// queueCapacity bounds the in-process channel between the broker and the
// forwarder. spec.md §5 calls for drop-newest backpressure so a stalled
// cloud endpoint can't unbound the gateway's memory.
const queueCapacity = 1024

// serviceTokenTTL is the lifetime of minted JWTs, matching
// jwk.py's generate_service_token default of 60 minutes; the minter
// re-mints only once the cached token is within 60s of this expiry.
const serviceTokenTTL = 60 * time.Minute

// Gateway owns every long-running sub-component.
type Gateway struct {
	cfg     *config.Config
	logger  *slog.Logger
	broker  *broker.Worker
	forward *upload.Forwarder
	control *controlplane.Server
	queue   chan *telemetry.Processed

	dropped int
}

// New builds a Gateway from configuration, wiring every component in
// the order spec.md §3 describes (canonicalizer implicit in signing,
// through the control plane).
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	for _, gate := range cfg.DisabledGates() {
		fogevents.Security(logger, "gate_disabled", "security gate disabled by kill switch", "", fogevents.SeverityCritical, "gate", gate)
	}

	limiter, err := ratelimit.New(ratelimit.Algorithm(cfg.RateLimit.Algorithm), cfg.RateLimit.MessagesPerMinute, cfg.RateLimit.BurstCapacity)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	sigs := signing.NewVerifier(cfg.Security.SensorHMACKeys)
	fresh := freshness.New(cfg.Security.TimestampWindow)
	nonces := noncecache.New(cfg.Security.TimestampWindow*2, cfg.Security.NonceCacheSize)

	var decryptor *aead.Decryptor
	if len(cfg.Security.AESGCMKey) > 0 {
		decryptor, err = aead.New(cfg.Security.AESGCMKey)
		if err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
	}

	gates := validator.Gates{
		Signature: cfg.Security.EnableSignatureVerification,
		Timestamp: cfg.Security.EnableTimestampValidation,
		Nonce:     cfg.Security.EnableNonceValidation,
		Rate:      cfg.Security.EnableRateLimiting,
	}
	v := validator.New(gates, limiter, sigs, fresh, nonces, decryptor, logger)

	queue := make(chan *telemetry.Processed, queueCapacity)
	g := &Gateway{cfg: cfg, logger: logger, queue: queue}

	brokerCfg := broker.Config{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		UseTLS:   cfg.MQTT.UseTLS,
	}
	if brokerCfg.UseTLS {
		brokerCfg.Port = cfg.MQTT.SecurePort
	}
	g.broker = broker.New(brokerCfg, v, logger, g.enqueue, g.onReject)

	if cfg.Security.JWTSecret == "" {
		return nil, fmt.Errorf("gateway: JWT_SECRET_KEY is required")
	}
	minter := svctoken.New([]byte(cfg.Security.JWTSecret), serviceTokenTTL)
	g.forward = upload.New(cfg.Cloud.URL, time.Duration(cfg.Cloud.TimeoutSeconds)*time.Second, cfg.Cloud.APIKey, minter)

	probeClnt := probe.New()
	health := map[string]controlplane.HealthSource{
		"broker": func() (bool, string) {
			return true, fmt.Sprintf("received=%d accepted=%d rejected=%d", g.broker.Stats().Received, g.broker.Stats().Accepted, g.broker.Stats().Rejected)
		},
		"queue": func() (bool, string) {
			return len(g.queue) < queueCapacity, fmt.Sprintf("depth=%d/%d dropped=%d", len(g.queue), queueCapacity, g.dropped)
		},
	}
	g.control = controlplane.New(cfg, health, probeClnt, v, g.enqueue, logger)

	return g, nil
}

// enqueue is the broker's accept callback. It drops the newest message
// rather than blocking the broker's read loop when the queue is full,
// per spec.md §5's backpressure policy.
func (g *Gateway) enqueue(p *telemetry.Processed) {
	if g.control != nil {
		g.control.Metrics().TelemetryAccepted.Inc()
	}
	select {
	case g.queue <- p:
	default:
		g.dropped++
		fogevents.Security(g.logger, "queue_overflow", "forwarder queue full, dropping message", p.SensorID, fogevents.SeverityWarning)
	}
}

// onReject is the broker's reject callback, wired to the control plane's
// rejected-telemetry counter.
func (g *Gateway) onReject() {
	if g.control != nil {
		g.control.Metrics().TelemetryRejected.Inc()
	}
}

// Run starts every sub-component and blocks until ctx is canceled or a
// component fails fatally, then drains queued work for up to 10 seconds
// before returning.
func (g *Gateway) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := g.broker.Start(); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
		<-gctx.Done()
		g.broker.Stop(250)
		return nil
	})

	group.Go(func() error {
		return g.runForwardLoop(gctx)
	})

	srv := g.control.Handler(fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port), controlplane.DefaultServerConfig())
	group.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		select {
		case <-gctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("control plane: %w", err)
			}
			return nil
		}
	})

	return group.Wait()
}

func (g *Gateway) runForwardLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return g.drain()
		case record := <-g.queue:
			g.forwardOne(ctx, record)
		}
	}
}

func (g *Gateway) drain() error {
	deadline := time.After(10 * time.Second)
	for {
		select {
		case record := <-g.queue:
			g.forwardOne(context.Background(), record)
		case <-deadline:
			return nil
		default:
			return nil
		}
	}
}

func (g *Gateway) forwardOne(ctx context.Context, record *telemetry.Processed) {
	result := g.forward.Send(ctx, record)
	if result.OK {
		g.control.Metrics().ForwardSuccess.Inc()
		fogevents.Performance(g.logger, "forward_latency", "forwarded telemetry to cloud", 0, "sensor_id", record.SensorID, "retries", result.Retries)
		return
	}
	g.control.Metrics().ForwardFailure.Inc()
	fogevents.Security(g.logger, "forward_failed", result.Body, record.SensorID, fogevents.SeverityError, "status", result.Status, "retries", result.Retries)
}
