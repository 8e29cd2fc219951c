// Package validator composes the signature, timestamp, nonce, rate-limit,
// and decryption gates into the fixed pipeline order from spec.md §4.7,
// grounded on original_source/fog/app/mqtt_worker.py's
// _validate_telemetry.
package validator

import (
	"encoding/json"
	"fmt"

	"github.com/greenhouse-systems/fog-gateway/internal/aead"
	"github.com/greenhouse-systems/fog-gateway/internal/fogevents"
	"github.com/greenhouse-systems/fog-gateway/internal/freshness"
	"github.com/greenhouse-systems/fog-gateway/internal/noncecache"
	"github.com/greenhouse-systems/fog-gateway/internal/ratelimit"
	"github.com/greenhouse-systems/fog-gateway/internal/signing"
	"github.com/greenhouse-systems/fog-gateway/internal/telemetry"

	"log/slog"
)

// Gates bundles the kill switches read from config. A false entry skips
// that gate entirely rather than failing it, matching the Python
// reference's ENABLE_* environment flags.
type Gates struct {
	Signature bool
	Timestamp bool
	Nonce     bool
	Rate      bool
}

// Validator runs the full admission pipeline for one telemetry envelope.
type Validator struct {
	gates     Gates
	limiter   *ratelimit.Limiter
	sigs      *signing.Verifier
	fresh     *freshness.Gate
	freshWide *freshness.Gate
	nonces    *noncecache.Cache
	decryptor *aead.Decryptor // nil if AES_GCM_KEY was not configured
	logger    *slog.Logger
}

// New builds a Validator from its constituent gates. decryptor may be nil
// when no sensors use payload encryption.
func New(gates Gates, limiter *ratelimit.Limiter, sigs *signing.Verifier, fresh *freshness.Gate, nonces *noncecache.Cache, decryptor *aead.Decryptor, logger *slog.Logger) *Validator {
	return &Validator{
		gates:     gates,
		limiter:   limiter,
		sigs:      sigs,
		fresh:     fresh,
		freshWide: fresh.Doubled(),
		nonces:    nonces,
		decryptor: decryptor,
		logger:    logger,
	}
}

// Outcome is a reject reason for a failed validation, or empty on success.
type Outcome struct {
	Rejected bool
	Reason   string
}

// Validate runs rate-limit, signature, timestamp, nonce, then decryption
// in that fixed order (spec.md §4.7), short-circuiting on the first
// failure. wideWindow selects the doubled timestamp window used by the
// probe path, and also bypasses the nonce gate, per spec.md §4.9.
func (v *Validator) Validate(env *telemetry.Envelope, wideWindow bool) (*telemetry.Processed, Outcome) {
	if v.gates.Rate && v.limiter != nil {
		if !v.limiter.Allow(env.SensorID) {
			fogevents.Security(v.logger, "rate_limit_exceeded", "sensor exceeded rate limit", env.SensorID, fogevents.SeverityWarning)
			return nil, Outcome{Rejected: true, Reason: "rate_limit_exceeded"}
		}
	}

	fields := env.RawFields()
	sigOK := true
	if v.gates.Signature {
		result := v.sigs.Verify(env.SensorID, fields, env.Sig)
		sigOK = result.Valid
		if !sigOK {
			fogevents.Security(v.logger, "signature_verification_failed", result.Reason, env.SensorID, fogevents.SeverityError)
			return nil, Outcome{Rejected: true, Reason: "signature_invalid: " + result.Reason}
		}
	}

	gate := v.fresh
	if wideWindow {
		gate = v.freshWide
	}
	tsOK := true
	var age float64
	if v.gates.Timestamp {
		ts, err := telemetry.ParseTimestamp(env.TS)
		if err != nil {
			return nil, Outcome{Rejected: true, Reason: "invalid_timestamp"}
		}
		tsOK, age = gate.Check(ts)
		if !tsOK {
			fogevents.Security(v.logger, "timestamp_out_of_window", "stale or future timestamp", env.SensorID, fogevents.SeverityWarning, "age_seconds", age)
			return nil, Outcome{Rejected: true, Reason: "timestamp_out_of_window"}
		}
	}

	nonceOK := true
	if v.gates.Nonce && !wideWindow {
		key := env.SensorID + ":" + env.Nonce
		nonceOK = v.nonces.CheckAndAdd(key)
		if !nonceOK {
			fogevents.Security(v.logger, "nonce_replay", "duplicate nonce detected", env.SensorID, fogevents.SeverityCritical)
			return nil, Outcome{Rejected: true, Reason: "nonce_replay"}
		}
	}

	decrypted := false
	if env.Enc {
		if v.decryptor == nil {
			return nil, Outcome{Rejected: true, Reason: "encryption_not_configured"}
		}
		merged, err := v.decryptor.Decrypt(env)
		if err != nil {
			fogevents.Security(v.logger, "decryption_failed", err.Error(), env.SensorID, fogevents.SeverityError)
			return nil, Outcome{Rejected: true, Reason: "decryption_failed"}
		}
		fields = merged
		decrypted = true
	}

	value, unit, err := extractValue(fields, env.Type)
	if err != nil {
		return nil, Outcome{Rejected: true, Reason: err.Error()}
	}

	ts, _ := telemetry.ParseTimestamp(env.TS)
	processed := &telemetry.Processed{
		SensorID:  env.SensorID,
		Timestamp: ts,
		Type:      env.Type,
		Value:     value,
		Unit:      unit,
		Nonce:     env.Nonce,
		Decrypted: decrypted,
		Validation: telemetry.Validation{
			Signature: sigOK,
			Timestamp: tsOK,
			Nonce:     nonceOK,
			Rate:      true,
		},
	}

	fogevents.Telemetry(v.logger, "validated", "telemetry accepted", env.SensorID,
		"sensor_type", env.Type, "decrypted", decrypted)

	return processed, Outcome{}
}

func extractValue(fields map[string]json.RawMessage, sensorType string) (value float64, unit string, err error) {
	if !telemetry.KnownTypes[sensorType] {
		return 0, "", fmt.Errorf("unknown sensor type %q", sensorType)
	}

	raw, ok := fields["value"]
	if !ok {
		return 0, "", fmt.Errorf("missing value field")
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, "", fmt.Errorf("value field is not numeric")
	}

	if u, ok := fields["unit"]; ok {
		json.Unmarshal(u, &unit)
	}
	if unit == "" {
		unit = telemetry.DefaultUnit[sensorType]
	}
	return value, unit, nil
}
