// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package cryptoprimitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// GCMNonceSize is the IV length AES-GCM uses throughout the engine, per
// spec §4.1 and the V2 file envelope (§6).
const GCMNonceSize = 12

// GCMTagSize is the authentication tag length AES-GCM appends to every
// ciphertext it produces.
const GCMTagSize = 16

// EncryptAESGCM encrypts plaintext with key (32 bytes, AES-256) and the
// given 12-byte iv, returning ciphertext with the 16-byte authentication
// tag appended. aad is optional additional authenticated data.
//
// Unlike the teacher's EncryptData, this never marshals its input to JSON —
// the opaque record blob is serialized by the caller. iv is supplied by the
// caller (the V2 envelope's data_iv field is read from the header) rather
// than generated internally, so the same function serves both encrypt and
// "would-be" re-encrypt call sites without generating a fresh nonce that
// the caller would then have to discard.
func EncryptAESGCM(key, iv, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoprimitives: new gcm: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("cryptoprimitives: iv must be %d bytes, got %d", gcm.NonceSize(), len(iv))
	}

	return gcm.Seal(nil, iv, plaintext, aad), nil
}

// DecryptAESGCM decrypts a blob produced by [EncryptAESGCM]. Returns an
// error if the key is wrong or the tag fails to verify (tamper detection).
func DecryptAESGCM(key, iv, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoprimitives: new gcm: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("cryptoprimitives: iv must be %d bytes, got %d", gcm.NonceSize(), len(iv))
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("cryptoprimitives: gcm open: %w", err)
	}
	return plaintext, nil
}

// GenerateGCMNonce returns a fresh CSPRNG-sourced 12-byte nonce suitable for
// use as a data_iv.
func GenerateGCMNonce() ([]byte, error) {
	nonce := make([]byte, GCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoprimitives: generate nonce: %w", err)
	}
	return nonce, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (AES-256), got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
