package validator

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/greenhouse-systems/fog-gateway/internal/freshness"
	"github.com/greenhouse-systems/fog-gateway/internal/noncecache"
	"github.com/greenhouse-systems/fog-gateway/internal/ratelimit"
	"github.com/greenhouse-systems/fog-gateway/internal/signing"
	"github.com/greenhouse-systems/fog-gateway/internal/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildEnvelope(t *testing.T, key []byte, ts string, nonce string) *telemetry.Envelope {
	t.Helper()
	fields := map[string]any{
		"sensor_id": "temp-01",
		"ts":        ts,
		"type":      "temperature",
		"value":     21.5,
		"unit":      "°C",
		"nonce":     nonce,
		"enc":       false,
		"ver":       1,
	}
	rawFields := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		b, _ := json.Marshal(v)
		rawFields[k] = b
	}
	sig, err := signing.Sign(key, rawFields)
	if err != nil {
		t.Fatal(err)
	}
	fields["sig"] = sig

	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	env, err := telemetry.ParseEnvelope(raw)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

// newTestValidator builds a Validator whose timestamp gate reads the wall
// clock, so envelopes must carry timestamps near time.Now.
func newTestValidator(t *testing.T, key []byte) *Validator {
	t.Helper()
	limiter, err := ratelimit.New(ratelimit.TokenBucket, 600, 100)
	if err != nil {
		t.Fatal(err)
	}
	sigs := signing.NewVerifier(map[string][]byte{"temp-01": key})
	fresh := freshness.New(120 * time.Second)
	nonces := noncecache.New(time.Hour, 1000)

	gates := Gates{Signature: true, Timestamp: true, Nonce: true, Rate: true}
	return New(gates, limiter, sigs, fresh, nonces, nil, testLogger())
}

func TestValidateAcceptsWellFormedEnvelope(t *testing.T) {
	key := []byte("shared-secret")
	now := time.Now().UTC()
	env := buildEnvelope(t, key, now.Format(time.RFC3339), "n1")

	v := newTestValidator(t, key)
	processed, outcome := v.Validate(env, false)
	if outcome.Rejected {
		t.Fatalf("expected acceptance, got: %s", outcome.Reason)
	}
	if processed.Value != 21.5 {
		t.Errorf("expected value 21.5, got %v", processed.Value)
	}
}

func TestValidateRejectsBadSignature(t *testing.T) {
	now := time.Now().UTC()
	env := buildEnvelope(t, []byte("wrong-key"), now.Format(time.RFC3339), "n2")

	v := newTestValidator(t, []byte("shared-secret"))
	_, outcome := v.Validate(env, false)
	if !outcome.Rejected {
		t.Fatal("expected rejection for bad signature")
	}
}

func TestValidateRejectsStaleTimestamp(t *testing.T) {
	key := []byte("shared-secret")
	now := time.Now().UTC()
	stale := now.Add(-500 * time.Second)
	env := buildEnvelope(t, key, stale.Format(time.RFC3339), "n3")

	v := newTestValidator(t, key)
	_, outcome := v.Validate(env, false)
	if !outcome.Rejected {
		t.Fatal("expected rejection for stale timestamp")
	}
}

func TestValidateRejectsReplayedNonce(t *testing.T) {
	key := []byte("shared-secret")
	now := time.Now().UTC()
	v := newTestValidator(t, key)

	env1 := buildEnvelope(t, key, now.Format(time.RFC3339), "dup-nonce")
	if _, outcome := v.Validate(env1, false); outcome.Rejected {
		t.Fatalf("first message should be accepted: %s", outcome.Reason)
	}

	env2 := buildEnvelope(t, key, now.Format(time.RFC3339), "dup-nonce")
	_, outcome := v.Validate(env2, false)
	if !outcome.Rejected {
		t.Fatal("expected rejection for replayed nonce")
	}
}

func TestValidateWideWindowBypassesNonce(t *testing.T) {
	key := []byte("shared-secret")
	now := time.Now().UTC()
	v := newTestValidator(t, key)

	env1 := buildEnvelope(t, key, now.Format(time.RFC3339), "probe-nonce")
	if _, outcome := v.Validate(env1, true); outcome.Rejected {
		t.Fatalf("expected acceptance: %s", outcome.Reason)
	}
	env2 := buildEnvelope(t, key, now.Format(time.RFC3339), "probe-nonce")
	if _, outcome := v.Validate(env2, true); outcome.Rejected {
		t.Fatalf("wide window should bypass nonce replay check: %s", outcome.Reason)
	}
}
