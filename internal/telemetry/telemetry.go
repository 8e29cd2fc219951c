// Package telemetry defines the wire and processed data shapes for sensor
// envelopes, per spec.md §3.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// KnownTypes is the set of accepted sensor kinds.
var KnownTypes = map[string]bool{
	"temperature": true,
	"humidity":    true,
	"wind":        true,
}

// DefaultUnit fills in a canonical unit for a known type when the envelope
// omitted one (common for encrypted envelopes). Supplemented from
// original_source/fog — the original sensor simulators always paired each
// kind with one of these units.
var DefaultUnit = map[string]string{
	"temperature": "°C",
	"humidity":    "%",
	"wind":        "m/s",
}

// EncryptedData is the ciphertext envelope carried when Enc is true.
type EncryptedData struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// Envelope is the raw telemetry message as it arrives on the bus or in a
// probe response.
type Envelope struct {
	SensorID      string         `json:"sensor_id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	Value         *float64       `json:"value,omitempty"`
	Unit          string         `json:"unit,omitempty"`
	Nonce         string         `json:"nonce"`
	Enc           bool           `json:"enc"`
	Ver           int            `json:"ver"`
	Sig           string         `json:"sig,omitempty"`
	EncryptedData *EncryptedData `json:"encrypted_data,omitempty"`

	// raw preserves the original field set (including unknown fields) so
	// canonicalization can sign exactly what was received.
	raw map[string]json.RawMessage `json:"-"`
}

// ParseEnvelope decodes raw JSON into an Envelope, retaining the original
// field map for canonicalization. Structural errors (bad JSON, wrong field
// types) are returned as an error — the "malformed" taxonomy entry in
// spec.md §7.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("telemetry: invalid JSON: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("telemetry: invalid envelope shape: %w", err)
	}
	env.raw = fields

	if env.SensorID == "" {
		return nil, fmt.Errorf("telemetry: missing sensor_id")
	}
	if env.Nonce == "" {
		return nil, fmt.Errorf("telemetry: missing nonce")
	}
	if env.Ver != 1 {
		return nil, fmt.Errorf("telemetry: unsupported protocol version %d", env.Ver)
	}
	if _, err := ParseTimestamp(env.TS); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	return &env, nil
}

// RawFields returns the originally-received field map, used by the
// canonicalizer to sign exactly what the sensor sent (including any
// unknown fields, which must not fail verification per spec.md §9).
func (e *Envelope) RawFields() map[string]json.RawMessage {
	return e.raw
}

// ParseTimestamp parses an RFC3339 timestamp, accepting both trailing "Z"
// and explicit "+00:00" offsets per spec.md §6.
func ParseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	return t, nil
}

// Processed is the immutable record the Validator emits on success.
type Processed struct {
	SensorID   string
	Timestamp  time.Time
	Type       string
	Value      float64
	Unit       string
	Nonce      string
	Decrypted  bool
	Validation Validation
}

// Validation records which gates the record passed.
type Validation struct {
	Signature bool
	Timestamp bool
	Nonce     bool
	Rate      bool
}

// AllValid reports whether every gate that ran, passed.
func (v Validation) AllValid() bool {
	return v.Signature && v.Timestamp && v.Nonce && v.Rate
}

// CloudDTO is the JSON body POSTed to the cloud ingest endpoint.
type CloudDTO struct {
	SensorID          string `json:"sensor_id"`
	Timestamp         string `json:"timestamp"`
	SensorType        string `json:"sensor_type"`
	Value             float64 `json:"value"`
	Unit              string `json:"unit"`
	FogProcessedAt    string `json:"fog_processed_at"`
	SecurityValidated bool   `json:"security_validated"`
}

// ToCloudDTO builds the forward DTO per spec.md §4.10.
func (p *Processed) ToCloudDTO(now time.Time) CloudDTO {
	return CloudDTO{
		SensorID:          p.SensorID,
		Timestamp:         p.Timestamp.Format(time.RFC3339),
		SensorType:        p.Type,
		Value:             p.Value,
		Unit:              p.Unit,
		FogProcessedAt:    now.UTC().Format(time.RFC3339),
		SecurityValidated: p.Validation.AllValid(),
	}
}
