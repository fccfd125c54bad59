// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package cryptoprimitives

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"

	"golang.org/x/crypto/sha3"
)

// HMACSHA256 computes HMAC-SHA256(key, data).
func HMACSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// HMACSHA512 computes HMAC-SHA512(key, data).
func HMACSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// SHA256Sum computes SHA-256(data).
func SHA256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// UsernameHashAlgorithm selects the digest used to hash a plaintext username
// before it is stored in a key slot (spec §3 username_hash_algorithm).
type UsernameHashAlgorithm uint8

const (
	UsernameHashPlain UsernameHashAlgorithm = iota
	UsernameHashSHA3_256
	UsernameHashSHA3_384
	UsernameHashSHA3_512
	UsernameHashPBKDF2SHA256
	UsernameHashArgon2id
)

// HashUsername applies algo to username and returns the bytes to store as
// username_hash (≤ 64 bytes per slot). salt is required by the KDF-backed
// algorithms and ignored by the plain SHA-3 variants (they hash the
// username alone — the per-slot username_salt exists so the KDF-backed
// variants can still be salted without a second salt field).
func HashUsername(algo UsernameHashAlgorithm, username string, salt []byte) []byte {
	switch algo {
	case UsernameHashPlain:
		return []byte(username)
	case UsernameHashSHA3_256:
		sum := sha3.Sum256([]byte(username))
		return sum[:]
	case UsernameHashSHA3_384:
		sum := sha3.Sum384([]byte(username))
		return sum[:]
	case UsernameHashSHA3_512:
		sum := sha3.Sum512([]byte(username))
		return sum[:]
	case UsernameHashPBKDF2SHA256:
		return DerivePBKDF2SHA256(username, salt, 100_000)
	case UsernameHashArgon2id:
		return DeriveArgon2id(username, salt, Argon2idParams{MemoryKiB: 64 * 1024, Time: 3, Parallelism: 4})
	default:
		return []byte(username)
	}
}
