// Package secrets encrypts small persisted blobs, such as session cookies,
// with AES-GCM under a PBKDF2-derived key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"llmb/shared"
)

// =============================================================================
// BLOB ENCRYPTION
// =============================================================================
//
// Envelope layout: LLMB_ENC_V1:<b64 salt>:<b64 nonce>:<b64 ciphertext>.
// A fresh salt and nonce are generated per blob, so encrypting the same
// plaintext twice yields different envelopes. The version sentinel lets
// readers detect plaintext blobs and future envelope formats.
//
// =============================================================================

// envelopeVersion is the sentinel prefix of every encrypted blob
const envelopeVersion = "LLMB_ENC_V1"

const (
	saltLength       = 16
	derivedKeyLength = 32
	pbkdf2Iterations = 100_000
)

// IsEncrypted reports whether a blob carries the current envelope sentinel
func IsEncrypted(blob string) bool {
	return strings.HasPrefix(blob, envelopeVersion+":")
}

// Encrypt seals plaintext under the passphrase and returns the envelope
func Encrypt(passphrase string, plaintext []byte) (string, error) {
	if passphrase == "" {
		return "", shared.NewError(shared.ErrCodeInvalidRequest, "encryption passphrase is empty")
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", shared.WrapError(shared.ErrCodeUnknown, "generate salt", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", shared.WrapError(shared.ErrCodeUnknown, "generate nonce", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	enc := base64.StdEncoding
	return strings.Join([]string{
		envelopeVersion,
		enc.EncodeToString(salt),
		enc.EncodeToString(nonce),
		enc.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens an envelope produced by Encrypt
func Decrypt(passphrase, envelope string) ([]byte, error) {
	if passphrase == "" {
		return nil, shared.NewError(shared.ErrCodeInvalidRequest, "decryption passphrase is empty")
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 4 {
		return nil, shared.NewError(shared.ErrCodeParseError, "malformed encrypted blob")
	}
	if parts[0] != envelopeVersion {
		return nil, shared.NewErrorf(shared.ErrCodeParseError, "unsupported blob version %q", parts[0])
	}

	enc := base64.StdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeParseError, "decode salt", err)
	}
	nonce, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeParseError, "decode nonce", err)
	}
	ciphertext, err := enc.DecodeString(parts[3])
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeParseError, "decode ciphertext", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, shared.NewError(shared.ErrCodeParseError, "malformed encrypted blob")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeUnauthorized, "decryption failed", err)
	}
	return plaintext, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, derivedKeyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeUnknown, "init cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeUnknown, "init gcm", err)
	}
	return gcm, nil
}
