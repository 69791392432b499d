// Package vault encrypts provider credentials a host lends to guests of a session.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const (
	currentVersion    = "v2"
	deprecatedVersion = "v1"

	keyLength = 32
	ivLength  = 12
	tagLength = 16

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// scryptSalt binds derived keys to the lending scheme; the secret supplies the entropy.
var scryptSalt = []byte("swiparr-guest-lending-v2")

var (
	// ErrDeprecatedFormat is returned for v1 payloads, which were derived with a
	// plain hash and are refused rather than decrypted.
	ErrDeprecatedFormat   = errors.New("vault: payload uses deprecated v1 format; disable and re-enable guest lending")
	ErrUnsupportedVersion = errors.New("vault: unsupported payload version")
	ErrMalformedPayload   = errors.New("vault: malformed payload")
	ErrDecryptionFailed   = errors.New("vault: decryption failed")
	ErrEmptySecret        = errors.New("vault: secret must not be empty")
)

// scrypt is slow on purpose, so keys are derived once per secret.
var keyCache sync.Map

func deriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if key, ok := keyCache.Load(secret); ok {
		return key.([]byte), nil
	}
	key, err := scrypt.Key([]byte(secret), scryptSalt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	keyCache.Store(secret, key)
	return key, nil
}

func newGCM(secret string) (cipher.AEAD, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("vault: create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext as "v2:iv:ciphertext:tag" with base64 parts.
func Encrypt(plaintext, secret string) (string, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		currentVersion,
		enc.EncodeToString(iv),
		enc.EncodeToString(ct),
		enc.EncodeToString(tag),
	}, ":"), nil
}

// Decrypt opens a payload produced by Encrypt. Anything other than a well-formed
// v2 payload is an error; nothing is passed through as plaintext.
func Decrypt(payload, secret string) (string, error) {
	parts := strings.Split(payload, ":")
	switch {
	case len(parts) > 0 && parts[0] == deprecatedVersion:
		return "", ErrDeprecatedFormat
	case len(parts) != 4:
		return "", ErrMalformedPayload
	case parts[0] != currentVersion:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, parts[0])
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[1])
	if err != nil || len(iv) != ivLength {
		return "", ErrMalformedPayload
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedPayload
	}
	tag, err := enc.DecodeString(parts[3])
	if err != nil || len(tag) != tagLength {
		return "", ErrMalformedPayload
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsDeprecated reports whether a stored payload uses the retired v1 format.
func IsDeprecated(payload string) bool {
	return strings.HasPrefix(payload, deprecatedVersion+":")
}

// Vault binds Encrypt and Decrypt to one secret.
type Vault struct {
	secret string
}

func New(secret string) *Vault {
	return &Vault{secret: secret}
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	return Encrypt(plaintext, v.secret)
}

func (v *Vault) Decrypt(payload string) (string, error) {
	return Decrypt(payload, v.secret)
}
