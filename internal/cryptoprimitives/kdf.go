// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package cryptoprimitives

import (
	"crypto/sha256"
	"crypto/sha512"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Argon2idParams holds the tuning triplet spec §3 requires for Argon2id KEK
// derivation: memory in [8192, 1048576] KiB, time in [1, 10], parallelism in
// [1, 16].
type Argon2idParams struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
}

// DerivePBKDF2SHA256 derives a 32-byte key from password and salt using
// PBKDF2-HMAC-SHA256. iterations must already have been validated to lie in
// [100000, 1000000] by the caller (spec §3); this function does not
// re-validate the range, which is checked where a policy block is decoded
// (internal/header) and where a configuration is validated
// (internal/config).
func DerivePBKDF2SHA256(password string, salt []byte, iterations uint32) []byte {
	return pbkdf2.Key([]byte(password), salt, int(iterations), 32, sha256.New)
}

// DerivePBKDF2SHA512 derives an n-byte key from password and salt using
// PBKDF2-HMAC-SHA512. Used for password-history entries (spec §4.5: 48-byte
// hash, 600000 iterations).
func DerivePBKDF2SHA512(password string, salt []byte, iterations uint32, keyLen int) []byte {
	return pbkdf2.Key([]byte(password), salt, int(iterations), keyLen, sha512.New)
}

// DeriveArgon2id derives a 32-byte key from password and salt using
// Argon2id with the given params.
func DeriveArgon2id(password string, salt []byte, params Argon2idParams) []byte {
	return argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, 32)
}
