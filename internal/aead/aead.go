// Package aead implements AES-GCM payload decryption for sensors that
// encrypt their telemetry body, grounded on
// original_source/fog/app/security/aead.py.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/greenhouse-systems/fog-gateway/internal/telemetry"
)

// Decryptor decrypts AES-GCM sealed sensor payloads under a single
// gateway-wide key. spec.md §4.3 scopes encryption to one shared key,
// unlike signing which is keyed per sensor.
type Decryptor struct {
	key []byte
}

// New builds a Decryptor. key must be 16, 24, or 32 bytes (AES-128/192/256).
func New(key []byte) (*Decryptor, error) {
	if _, err := aes.NewCipher(key); err != nil {
		return nil, fmt.Errorf("aead: invalid key: %w", err)
	}
	return &Decryptor{key: key}, nil
}

// Decrypt opens the ciphertext in env.EncryptedData and merges the
// plaintext fields back into a field map, removing encrypted_data and
// enc.
func (d *Decryptor) Decrypt(env *telemetry.Envelope) (map[string]json.RawMessage, error) {
	if env.EncryptedData == nil {
		return nil, fmt.Errorf("aead: envelope has no encrypted_data")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedData.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("aead: invalid ciphertext encoding: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.EncryptedData.Nonce)
	if err != nil {
		return nil, fmt.Errorf("aead: invalid nonce encoding: %w", err)
	}

	block, err := aes.NewCipher(d.key)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("aead: decryption failed: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return nil, fmt.Errorf("aead: decrypted body is not a JSON object: %w", err)
	}

	merged := make(map[string]json.RawMessage, len(env.RawFields())+len(fields))
	for k, v := range env.RawFields() {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	delete(merged, "encrypted_data")
	delete(merged, "enc")

	return merged, nil
}

// Encrypt seals plaintext JSON under the caller-supplied nonce, which
// must be the GCM nonce size (12 bytes). Used by tests
// and any sensor simulator this gateway ships alongside itself.
func Encrypt(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}
