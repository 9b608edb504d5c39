// Package aead implements the per-connection symmetric channel: AES-256-GCM
// with a fresh random 12-byte nonce on every call. There is no sequence
// counter and no rekeying; each connection gets exactly one key for its
// lifetime, established once by the handshake package.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/duskline/securechat/chaterr"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

const nonceSize = 12

// SecureChannel encrypts and decrypts frames with a fixed AES-256-GCM key.
// It holds no other state: nonces are random, not derived, so a
// SecureChannel is safe for concurrent Encrypt calls, though the session
// layer serializes writes anyway through its writer goroutine.
type SecureChannel struct {
	gcm cipher.AEAD
}

// New builds a SecureChannel from a raw 32-byte AES-256 key.
func New(key []byte) (*SecureChannel, error) {
	if len(key) != KeySize {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, err)
	}
	return &SecureChannel{gcm: gcm}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext), standard encoding, matching the wire
// contract's encrypted_payload.payload field.
func (c *SecureChannel) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, err)
	}
	sealed := c.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any failure (bad base64, short input, or a
// failed GCM tag check) collapses to a single opaque error: distinguishing
// them would leak information about why decryption failed to an attacker
// probing the channel.
func (c *SecureChannel) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeDecryptFailed, nil)
	}
	if len(raw) < nonceSize {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeDecryptFailed, nil)
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeDecryptFailed, nil)
	}
	return plaintext, nil
}
