package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT.Host != "localhost" {
		t.Errorf("expected default MQTT host localhost, got %q", cfg.MQTT.Host)
	}
	if cfg.Security.TimestampWindow.Seconds() != 120 {
		t.Errorf("expected default window 120s, got %v", cfg.Security.TimestampWindow)
	}
	if !cfg.Security.EnableSignatureVerification {
		t.Error("signature verification should default to enabled")
	}
	if len(cfg.DisabledGates()) != 0 {
		t.Errorf("expected no disabled gates by default, got %v", cfg.DisabledGates())
	}
}

func TestLoadSensorKeys(t *testing.T) {
	t.Setenv("SENSOR_TEMP_01_HMAC_KEY", "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	key, ok := cfg.Security.SensorHMACKeys["temp-01"]
	if !ok {
		t.Fatal("expected temp-01 key to be loaded")
	}
	if len(key) != 32 {
		t.Errorf("expected 32-byte key, got %d bytes", len(key))
	}
}

func TestLoadBadHexKeyFails(t *testing.T) {
	t.Setenv("SENSOR_TEMP_01_HMAC_KEY", "not-hex")

	if _, err := Load(); err == nil {
		t.Error("expected error for malformed hex key")
	}
}

func TestApplyOverlayOverridesTuningKnobs(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	path := filepath.Join(t.TempDir(), "fog.yaml")
	contents := "mqtt:\n  host: mqtt.internal\nrate_limit:\n  messages_per_minute: 120\ncloud:\n  url: https://cloud.internal\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := cfg.ApplyOverlay(path); err != nil {
		t.Fatalf("ApplyOverlay: %v", err)
	}
	if cfg.MQTT.Host != "mqtt.internal" {
		t.Errorf("expected overlay MQTT host, got %q", cfg.MQTT.Host)
	}
	if cfg.RateLimit.MessagesPerMinute != 120 {
		t.Errorf("expected overlay rate limit 120, got %d", cfg.RateLimit.MessagesPerMinute)
	}
	if cfg.Cloud.URL != "https://cloud.internal" {
		t.Errorf("expected overlay cloud URL, got %q", cfg.Cloud.URL)
	}
}

func TestApplyOverlayRejectsUnknownField(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	path := filepath.Join(t.TempDir(), "fog.yaml")
	if err := os.WriteFile(path, []byte("jwt_secret_key: sneaky\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := cfg.ApplyOverlay(path); err == nil {
		t.Fatal("expected error for unknown overlay field")
	}
}

func TestDisabledGatesReportsKillSwitches(t *testing.T) {
	t.Setenv("ENABLE_NONCE_VALIDATION", "false")
	t.Setenv("ENABLE_RATE_LIMITING", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	disabled := cfg.DisabledGates()
	if len(disabled) != 2 {
		t.Fatalf("expected 2 disabled gates, got %v", disabled)
	}
}
