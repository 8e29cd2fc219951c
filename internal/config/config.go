// Package config handles configuration for the fog gateway.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MQTT holds telemetry-bus connection settings.
type MQTT struct {
	Host       string
	Port       int
	SecurePort int
	Username   string
	Password   string
	UseTLS     bool
}

// Security holds the gate tuning and kill switches. Kill switches exist for
// demonstration only; a release build should not ship with any of them false.
type Security struct {
	SensorHMACKeys              map[string][]byte
	AESGCMKey                   []byte
	JWTSecret                   string
	EnableSignatureVerification bool
	EnableTimestampValidation   bool
	EnableNonceValidation       bool
	EnableRateLimiting          bool
	TimestampWindow             time.Duration
	NonceCacheSize              int
}

// RateLimit holds the per-sensor admission bucket tuning.
type RateLimit struct {
	MessagesPerMinute int
	BurstCapacity     int
	Algorithm         string // "token_bucket" | "leaky_bucket"
}

// Cloud holds the ingest endpoint and service credentials.
type Cloud struct {
	URL            string
	APIKey         string
	TimeoutSeconds int
}

// ProbeSensor is one entry of the default sensor roster polled by /coap/poll.
type ProbeSensor struct {
	ID   string
	Host string
	Port int
}

// Config is the immutable configuration loaded once at startup.
type Config struct {
	Host         string
	Port         int
	LogLevel     string
	MQTT         MQTT
	Security     Security
	RateLimit    RateLimit
	Cloud        Cloud
	ProbeSensors []ProbeSensor
}

// knownSensors is the default roster whose HMAC keys are read from
// SENSOR_<NAME>_HMAC_KEY. Carried over from original_source/fog/app/core/config.py.
var knownSensors = []string{"temp-01", "humidity-01", "wind-01"}

// defaultProbeSensors mirrors original_source/fog/app/main.py's sensor_hosts map.
var defaultProbeSensors = []ProbeSensor{
	{ID: "temp-01", Host: "sensor-temp", Port: 5683},
	{ID: "humidity-01", Host: "sensor-humidity", Port: 5683},
	{ID: "wind-01", Host: "sensor-wind", Port: 5683},
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	sensorKeys := make(map[string][]byte, len(knownSensors))
	for _, id := range knownSensors {
		envName := "SENSOR_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_HMAC_KEY"
		raw := os.Getenv(envName)
		if raw == "" {
			continue
		}
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("config: %s is not valid hex: %w", envName, err)
		}
		sensorKeys[id] = key
	}

	var aesKey []byte
	if raw := os.Getenv("AES_GCM_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("config: AES_GCM_KEY is not valid hex: %w", err)
		}
		aesKey = key
	}

	jwtSecret := os.Getenv("JWT_SECRET_KEY")

	cfg := &Config{
		Host:     envOr("FOG_HOST", "0.0.0.0"),
		Port:     envInt("FOG_PORT", 8000),
		LogLevel: envOr("LOG_LEVEL", "INFO"),
		MQTT: MQTT{
			Host:       envOr("MQTT_HOST", "localhost"),
			Port:       envInt("MQTT_PORT", 1883),
			SecurePort: envInt("MQTT_SECURE_PORT", 8883),
			Username:   os.Getenv("MQTT_USERNAME"),
			Password:   os.Getenv("MQTT_PASSWORD"),
			UseTLS:     envBool("ENABLE_TLS", false),
		},
		Security: Security{
			SensorHMACKeys:              sensorKeys,
			AESGCMKey:                   aesKey,
			JWTSecret:                   jwtSecret,
			EnableSignatureVerification: envBool("ENABLE_SIGNATURE_VERIFICATION", true),
			EnableTimestampValidation:   envBool("ENABLE_TIMESTAMP_VALIDATION", true),
			EnableNonceValidation:       envBool("ENABLE_NONCE_VALIDATION", true),
			EnableRateLimiting:          envBool("ENABLE_RATE_LIMITING", true),
			TimestampWindow:             time.Duration(envInt("TIMESTAMP_WINDOW_SECONDS", 120)) * time.Second,
			NonceCacheSize:              envInt("NONCE_CACHE_SIZE", 10000),
		},
		RateLimit: RateLimit{
			MessagesPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			BurstCapacity:     envInt("RATE_LIMIT_BURST", 10),
			Algorithm:         envOr("RATE_LIMIT_ALGORITHM", "token_bucket"),
		},
		Cloud: Cloud{
			URL:            envOr("CLOUD_URL", "https://localhost:8443"),
			APIKey:         os.Getenv("FOG_API_KEY"),
			TimeoutSeconds: envInt("CLOUD_TIMEOUT_SECONDS", 30),
		},
		ProbeSensors: defaultProbeSensors,
	}

	return cfg, nil
}

// DisabledGates returns the names of security gates turned off by kill
// switches, for the CRITICAL startup warning required by spec.md §9.
func (c *Config) DisabledGates() []string {
	var disabled []string
	if !c.Security.EnableSignatureVerification {
		disabled = append(disabled, "signature_verification")
	}
	if !c.Security.EnableTimestampValidation {
		disabled = append(disabled, "timestamp_validation")
	}
	if !c.Security.EnableNonceValidation {
		disabled = append(disabled, "nonce_validation")
	}
	if !c.Security.EnableRateLimiting {
		disabled = append(disabled, "rate_limiting")
	}
	return disabled
}

// overlay is the YAML shape accepted by --config. It covers non-secret
// tuning knobs only — credentials, HMAC/AES keys, and the JWT secret
// stay env-only and have no overlay field, so a config file can never
// leak or override them.
type overlay struct {
	Host     *string `yaml:"host"`
	Port     *int    `yaml:"port"`
	LogLevel *string `yaml:"log_level"`
	MQTT     *struct {
		Host       *string `yaml:"host"`
		Port       *int    `yaml:"port"`
		SecurePort *int    `yaml:"secure_port"`
		UseTLS     *bool   `yaml:"use_tls"`
	} `yaml:"mqtt"`
	RateLimit *struct {
		MessagesPerMinute *int    `yaml:"messages_per_minute"`
		BurstCapacity     *int    `yaml:"burst_capacity"`
		Algorithm         *string `yaml:"algorithm"`
	} `yaml:"rate_limit"`
	Security *struct {
		TimestampWindowSeconds *int `yaml:"timestamp_window_seconds"`
		NonceCacheSize         *int `yaml:"nonce_cache_size"`
	} `yaml:"security"`
	Cloud *struct {
		URL            *string `yaml:"url"`
		TimeoutSeconds *int    `yaml:"timeout_seconds"`
	} `yaml:"cloud"`
}

// ApplyOverlay reads a YAML file at path and overwrites any field it
// sets on c, leaving fields the file omits untouched. Unknown keys in
// the file are an error, catching typos in operator-maintained files.
func (c *Config) ApplyOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read overlay: %w", err)
	}

	var o overlay
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		return fmt.Errorf("config: parse overlay %s: %w", path, err)
	}

	if o.Host != nil {
		c.Host = *o.Host
	}
	if o.Port != nil {
		c.Port = *o.Port
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
	if o.MQTT != nil {
		if o.MQTT.Host != nil {
			c.MQTT.Host = *o.MQTT.Host
		}
		if o.MQTT.Port != nil {
			c.MQTT.Port = *o.MQTT.Port
		}
		if o.MQTT.SecurePort != nil {
			c.MQTT.SecurePort = *o.MQTT.SecurePort
		}
		if o.MQTT.UseTLS != nil {
			c.MQTT.UseTLS = *o.MQTT.UseTLS
		}
	}
	if o.RateLimit != nil {
		if o.RateLimit.MessagesPerMinute != nil {
			c.RateLimit.MessagesPerMinute = *o.RateLimit.MessagesPerMinute
		}
		if o.RateLimit.BurstCapacity != nil {
			c.RateLimit.BurstCapacity = *o.RateLimit.BurstCapacity
		}
		if o.RateLimit.Algorithm != nil {
			c.RateLimit.Algorithm = *o.RateLimit.Algorithm
		}
	}
	if o.Security != nil {
		if o.Security.TimestampWindowSeconds != nil {
			c.Security.TimestampWindow = time.Duration(*o.Security.TimestampWindowSeconds) * time.Second
		}
		if o.Security.NonceCacheSize != nil {
			c.Security.NonceCacheSize = *o.Security.NonceCacheSize
		}
	}
	if o.Cloud != nil {
		if o.Cloud.URL != nil {
			c.Cloud.URL = *o.Cloud.URL
		}
		if o.Cloud.TimeoutSeconds != nil {
			c.Cloud.TimeoutSeconds = *o.Cloud.TimeoutSeconds
		}
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.ToLower(v) == "true"
	}
	return fallback
}
