// Package signing implements message canonicalization and HMAC-SHA256
// signature verification for sensor telemetry envelopes. Grounded on
// original_source/fog/app/security/hmac.py, restructured around the
// teacher's SignedEnvelope/Verifier shape.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize reproduces the exact byte sequence a sensor signs: the
// envelope's fields re-marshaled with sorted keys and no whitespace, with
// the "sig" field removed. Unknown fields are preserved and included, so a
// forward-compatible sensor adding a new field doesn't break verification.
func Canonicalize(fields map[string]json.RawMessage) ([]byte, error) {
	stripped := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if k == "sig" {
			continue
		}
		stripped[k] = v
	}

	keys := make([]string, 0, len(stripped))
	for k := range stripped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("signing: marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		compact := bytes.NewBuffer(nil)
		if err := json.Compact(compact, stripped[k]); err != nil {
			return nil, fmt.Errorf("signing: compact field %q: %w", k, err)
		}
		buf.Write(compact.Bytes())
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Verifier checks HMAC-SHA256 signatures on sensor envelopes, keyed per
// sensor ID.
type Verifier struct {
	keys map[string][]byte
}

// NewVerifier builds a Verifier over a per-sensor key map (sensor ID ->
// shared secret, as loaded by internal/config).
func NewVerifier(keys map[string][]byte) *Verifier {
	return &Verifier{keys: keys}
}

// Result is the outcome of one verification attempt.
type Result struct {
	Valid  bool
	Reason string
}

// Verify checks that sig is the base64-encoded HMAC-SHA256 of the
// canonicalized fields, using the secret registered for sensorID. A
// sensor with no registered key always fails closed.
func (v *Verifier) Verify(sensorID string, fields map[string]json.RawMessage, sig string) Result {
	key, ok := v.keys[sensorID]
	if !ok {
		return Result{Reason: "unknown sensor: no signing key configured"}
	}
	if sig == "" {
		return Result{Reason: "missing signature"}
	}

	canonical, err := Canonicalize(fields)
	if err != nil {
		return Result{Reason: fmt.Sprintf("canonicalization failed: %v", err)}
	}

	want := HMACSign(key, canonical)

	given, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return Result{Reason: "invalid signature encoding"}
	}

	if subtle.ConstantTimeCompare(want, given) != 1 {
		return Result{Reason: "signature mismatch"}
	}
	return Result{Valid: true}
}

// HMACSign computes the raw HMAC-SHA256 tag of msg under key.
func HMACSign(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// Sign returns the base64-encoded HMAC-SHA256 signature of the
// canonicalized fields, for use by tests and by any sensor simulator this
// gateway ships.
func Sign(key []byte, fields map[string]json.RawMessage) (string, error) {
	canonical, err := Canonicalize(fields)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(HMACSign(key, canonical)), nil
}
