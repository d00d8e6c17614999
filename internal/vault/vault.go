// Package vault encrypts and decrypts vendor credentials at rest. All
// functions are pure and keep no key state, so they are safe to call from
// any number of concurrent workers.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryptionFailed is returned on any tag mismatch or malformed
// envelope. Callers must treat it as fatal for the credential, never as
// empty credentials.
var ErrDecryptionFailed = errors.New("decryption failed")

const (
	KeySize       = 32 // AES-256
	pbkdf2Rounds  = 100_000
	gcmNonceBytes = 12
)

// DeriveKey stretches a configured passphrase into an AES-256 key.
func DeriveKey(passphrase, salt string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdf2Rounds, KeySize, sha256.New)
}

// Encrypt seals plaintext with AES-GCM under key. A fresh random nonce is
// generated per call and embedded in the envelope (nonce || ciphertext,
// base64). The GCM tag is part of the ciphertext.
func Encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. It fails closed: any
// malformed envelope or authentication failure yields ErrDecryptionFailed.
func Decrypt(envelope string, key []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecryptionFailed)
	}
	if len(raw) < gcmNonceBytes {
		return "", fmt.Errorf("%w: envelope too short", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: bad key", ErrDecryptionFailed)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: bad key", ErrDecryptionFailed)
	}

	nonce, ciphertext := raw[:gcmNonceBytes], raw[gcmNonceBytes:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Hash returns the hex SHA-256 digest of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Sign computes the hex HMAC-SHA256 signature of data under secret.
func Sign(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time.
func VerifySignature(data []byte, signature, secret string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), expected)
}
