package aead

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/greenhouse-systems/fog-gateway/internal/telemetry"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"value":21.5,"unit":"°C"}`)
	ciphertext, err := Encrypt(key, nonce, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := json.Marshal(map[string]any{
		"sensor_id": "temp-01",
		"ts":        "2026-07-31T00:00:00Z",
		"type":      "temperature",
		"nonce":     "n1",
		"enc":       true,
		"ver":       1,
		"encrypted_data": map[string]string{
			"ciphertext": base64.StdEncoding.EncodeToString(ciphertext),
			"nonce":      base64.StdEncoding.EncodeToString(nonce),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	env, err := telemetry.ParseEnvelope(raw)
	if err != nil {
		t.Fatal(err)
	}

	d, err := New(key)
	if err != nil {
		t.Fatal(err)
	}

	merged, err := d.Decrypt(env)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if _, ok := merged["encrypted_data"]; ok {
		t.Error("encrypted_data should be removed after decryption")
	}
	var value float64
	if err := json.Unmarshal(merged["value"], &value); err != nil {
		t.Fatal(err)
	}
	if value != 21.5 {
		t.Errorf("expected decrypted value 21.5, got %v", value)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := testKey(t)
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatal(err)
	}
	ciphertext, err := Encrypt(key, nonce, []byte(`{"value":1}`))
	if err != nil {
		t.Fatal(err)
	}
	ciphertext[0] ^= 0xFF

	env := &telemetry.Envelope{
		EncryptedData: &telemetry.EncryptedData{
			Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
			Nonce:      base64.StdEncoding.EncodeToString(nonce),
		},
	}

	d, err := New(key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Decrypt(env); err == nil {
		t.Fatal("expected decryption failure for tampered ciphertext")
	}
}

func TestNewRejectsBadKeySize(t *testing.T) {
	if _, err := New([]byte("too-short")); err == nil {
		t.Fatal("expected error for invalid key size")
	}
}
