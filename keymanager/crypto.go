// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package keymanager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	apkerrors "apikeyrouter/errors"
)

// fernetKeyLen is the base64-encoded length of a 32-byte key, matching the
// original Python implementation's check for "is this already a usable key"
// (infrastructure/utils/encryption.py: exactly 44 base64 characters encodes
// 32 raw bytes with padding).
const fernetKeyLen = 44

const pbkdf2Iterations = 100_000
const keyLenBytes = 32

// Encryptor performs authenticated AES-256-GCM encryption of key material,
// with the nonce prepended to the ciphertext — the same shape used by both
// kimselius-jodo/kernel/internal/crypto and r3e-network-service_layer's
// internal/crypto packages. Unlike those, the input key here may be either
// a ready-made 32-byte (44-char base64) secret or a passphrase that gets
// stretched through PBKDF2-SHA256, mirroring the Python original's
// _get_encryption_key resolution exactly.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor derives (or directly uses) the encryption key from the
// configured secret and salt, and constructs an AES-256-GCM AEAD.
func NewEncryptor(secret, salt string) (*Encryptor, error) {
	if secret == "" {
		return nil, apkerrors.ErrEncryptionKeyUnset
	}

	var keyBytes []byte
	if len(secret) == fernetKeyLen {
		decoded, err := base64.URLEncoding.DecodeString(secret)
		if err == nil && len(decoded) == keyLenBytes {
			keyBytes = decoded
		}
	}
	if keyBytes == nil {
		if salt == "" {
			salt = "apikeyrouter-salt"
		}
		keyBytes = pbkdf2.Key([]byte(secret), []byte(salt), pbkdf2Iterations, keyLenBytes, sha256.New)
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("keymanager: building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keymanager: building GCM mode: %w", err)
	}
	return &Encryptor{gcm: gcm}, nil
}

// Encrypt seals plaintext, returning nonce||ciphertext||tag.
func (e *Encryptor) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keymanager: generating nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens data produced by Encrypt, returning the original plaintext.
func (e *Encryptor) Decrypt(data []byte) (string, error) {
	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("keymanager: ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("keymanager: decryption failed: %w", err)
	}
	return string(plaintext), nil
}
