// Package cryptoenc implements the Encryption collaborator interface the
// Adapter uses to load exchange credentials: PBKDF2-HMAC-SHA256 key
// derivation from an operator passphrase, AES-GCM authenticated envelope,
// URL-safe base64 on the wire.
package cryptoenc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	keyLenBytes      = 32
)

// fixedSalt is the spec-mandated fixed salt for key derivation — a single
// operator passphrase is the only secret input, so no per-record salt is
// stored or needed.
var fixedSalt = []byte("mexc-sniper-credential-envelope")

// Encryptor derives a single AES-256 key from an operator passphrase and
// seals/opens credential payloads with it.
type Encryptor struct {
	key []byte
}

// New derives the encryption key from the given passphrase. An empty
// passphrase is accepted and yields a usable key; Encrypt/Decrypt do not
// check for it, so callers that require a configured passphrase must check
// before constructing an Encryptor.
func New(passphrase string) *Encryptor {
	key := pbkdf2.Key([]byte(passphrase), fixedSalt, pbkdf2Iterations, keyLenBytes, sha256.New)
	return &Encryptor{key: key}
}

// Encrypt seals plaintext into a URL-safe base64 envelope.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext envelope produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertextB64 string) ([]byte, error) {
	sealed, err := base64.URLEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
