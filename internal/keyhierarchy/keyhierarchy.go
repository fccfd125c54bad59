// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package keyhierarchy orchestrates the vault's three-level key hierarchy
// (DEK, per-user KEK, wrapped DEK) on top of the primitives in
// internal/cryptoprimitives. Nothing here touches the file envelope or the
// key-slot wire format — this package only ever produces and consumes raw
// key material.
package keyhierarchy

import (
	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

const (
	dekSize         = 32
	kekSize         = 32
	saltSize        = 32
	historySalt     = 32
	historyHashSize = 48
	historyPBKDF2Iterations = 600_000
)

// GenerateDEK returns a fresh random 32-byte data-encryption key.
func GenerateDEK() ([]byte, error) {
	return cryptoprimitives.RandomBytes(dekSize)
}

// GenerateSalt returns a fresh random 32-byte password salt.
func GenerateSalt() ([]byte, error) {
	return cryptoprimitives.RandomBytes(saltSize)
}

// Argon2Params mirrors header.SecurityPolicy's Argon2 fields for callers
// deriving a KEK with that algorithm.
type Argon2Params struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
}

// DeriveKEK derives a 32-byte key-encryption key from password and salt
// using the requested algorithm. For PBKDF2, iterations must already have
// been validated to lie in [100000, 1000000]; for Argon2id, argon must
// already have been validated against the policy's bounds. Both are
// checked one layer up, in header.SecurityPolicy's decode path, and the
// vaultengine package's UpdatePolicy refuses to change them on an open
// vault — this function trusts its caller.
func DeriveKEK(algo header.KEKDerivationAlgorithm, password string, salt []byte, iterations uint32, argon Argon2Params) ([]byte, error) {
	switch algo {
	case header.KEKDerivationPBKDF2:
		return cryptoprimitives.DerivePBKDF2SHA256(password, salt, iterations), nil
	case header.KEKDerivationArgon2id:
		return cryptoprimitives.DeriveArgon2id(password, salt, cryptoprimitives.Argon2idParams{
			MemoryKiB:   argon.MemoryKiB,
			Time:        argon.Time,
			Parallelism: argon.Parallelism,
		}), nil
	default:
		return nil, vaulterrors.New(vaulterrors.KindKeyDerivationFailed)
	}
}

// CombineWithTokenResponse folds a hardware token's challenge-response
// into kek, producing the final KEK used for wrap/unwrap (spec §3). The
// response is length-normalized to 32 bytes first: responses of 32 bytes
// or fewer are zero-padded, longer ones are hashed down with SHA-256 — the
// normalization spec §9's open question #1 leaves to the implementation;
// this package always applies it, both for newly enrolled tokens and when
// verifying an existing enrollment, so the two sides never disagree.
func CombineWithTokenResponse(kek, response []byte) ([]byte, error) {
	if len(kek) != kekSize {
		return nil, vaulterrors.New(vaulterrors.KindCryptoProviderError)
	}

	normalized := normalizeTokenResponse(response)
	combined := make([]byte, kekSize)
	for i := range combined {
		combined[i] = kek[i] ^ normalized[i]
	}
	return combined, nil
}

func normalizeTokenResponse(response []byte) []byte {
	if len(response) > kekSize {
		return cryptoprimitives.SHA256Sum(response)
	}
	out := make([]byte, kekSize)
	copy(out, response)
	return out
}

// Wrap wraps dek under kek, producing the 40-byte value stored in a
// KeySlot's wrapped_dek field.
func Wrap(kek, dek []byte) ([]byte, error) {
	wrapped, err := cryptoprimitives.WrapKey(kek, dek)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindWrapFailed, err)
	}
	return wrapped, nil
}

// Unwrap recovers the DEK from wrapped under kek. Per spec §4.5, this is
// the vault's canonical password check: a wrong password, a wrong token
// response, or a tampered wrapped_dek field are all indistinguishable at
// this layer and MUST all surface identically. Callers map the returned
// error straight to vaulterrors.ErrAuthenticationFailed (never
// ErrUnwrapFailed directly) when authenticating a user — ErrUnwrapFailed
// is reserved for internal diagnostic logging via CodedError.LogCause.
func Unwrap(kek, wrapped []byte) ([]byte, error) {
	dek, err := cryptoprimitives.UnwrapKey(kek, wrapped)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindUnwrapFailed, err)
	}
	return dek, nil
}

// HashForPasswordHistory produces the 88-byte password-history entry
// (timestamp is supplied by the caller since this package never reads the
// clock): 8-byte changed_at placeholder left zero here, 32-byte fresh
// salt, 48-byte PBKDF2-HMAC-SHA512 hash at 600000 iterations. Callers fill
// in ChangedAtUnix themselves after this call returns.
func HashForPasswordHistory(password string) (*header.PasswordHistoryEntry, error) {
	salt, err := cryptoprimitives.RandomBytes(historySalt)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}

	hash := cryptoprimitives.DerivePBKDF2SHA512(password, salt, historyPBKDF2Iterations, historyHashSize)

	var entry header.PasswordHistoryEntry
	copy(entry.Salt[:], salt)
	copy(entry.Hash[:], hash)
	return &entry, nil
}

// MatchesPasswordHistory reports whether password reproduces entry's hash
// under entry's own salt, compared in constant time.
func MatchesPasswordHistory(password string, entry header.PasswordHistoryEntry) bool {
	candidate := cryptoprimitives.DerivePBKDF2SHA512(password, entry.Salt[:], historyPBKDF2Iterations, historyHashSize)
	return cryptoprimitives.ConstantTimeCompare(candidate, entry.Hash[:])
}
