// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package header implements bit-exact (de)serialization of the vault's
// SecurityPolicy and KeySlot records. It has no cryptographic side effects
// of its own — it only ever reads and writes bytes — and carries no
// knowledge of file envelopes or FEC framing; those live in the vaultengine
// and fec packages respectively.
//
// SecurityPolicy grew across four on-disk revisions (121, 122, 131, and 141
// bytes). Rather than model each revision as its own type, the package
// follows a single current in-memory [SecurityPolicy] plus a
// size-dispatched decoder: [DecodeSecurityPolicy] inspects the block length
// to decide which trailing field groups are present and defaults the rest,
// and [SecurityPolicy.Encode] always emits the current (141-byte) layout.
package header

import (
	"encoding/binary"

	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// KEKDerivationAlgorithm selects the KDF used to derive a KEK from a
// password, both at the policy level (the default for newly added slots)
// and per-slot.
type KEKDerivationAlgorithm uint8

const (
	KEKDerivationPBKDF2   KEKDerivationAlgorithm = 0x04
	KEKDerivationArgon2id KEKDerivationAlgorithm = 0x05
)

// TokenAlgorithm selects the HMAC algorithm a hardware token uses for
// challenge-response. Spec §3 requires at least SHA-256.
type TokenAlgorithm uint8

const (
	TokenAlgorithmSHA256 TokenAlgorithm = iota
	TokenAlgorithmSHA384
	TokenAlgorithmSHA512
)

// UsernameHashAlgorithm mirrors cryptoprimitives.UsernameHashAlgorithm on
// the wire; duplicated here (rather than imported) to keep this package's
// only dependency on cryptography-free byte layout.
type UsernameHashAlgorithm uint8

const (
	UsernameHashPlain UsernameHashAlgorithm = iota
	UsernameHashSHA3_256
	UsernameHashSHA3_384
	UsernameHashSHA3_512
	UsernameHashPBKDF2SHA256
	UsernameHashArgon2id
)

// Policy revision byte lengths (spec §3, §4.4).
const (
	PolicyLenV1Base       = 121
	PolicyLenWithUsername = 122
	PolicyLenWithArgon2   = 131
	PolicyLenCurrent      = 141

	tokenChallengeSize = 64
)

// Default Argon2id parameters applied when a policy block shorter than
// [PolicyLenWithArgon2] is decoded (spec §4.4).
const (
	DefaultArgon2MemoryKiB   = 64 * 1024
	DefaultArgon2Time        = 3
	DefaultArgon2Parallelism = 4
)

// SecurityPolicy is the single in-memory representation of every policy
// revision. Fields only present in newer revisions take their documented
// defaults (see each field below) when decoded from an older, shorter block;
// Encode always serializes them.
type SecurityPolicy struct {
	RequireToken           bool
	MinPasswordLength      uint8
	KDFIterations          uint32
	PasswordHistoryDepth   uint8
	KEKDerivationAlgorithm KEKDerivationAlgorithm
	TokenAlgorithm         TokenAlgorithm
	TokenChallenge         [tokenChallengeSize]byte
	CreatedAtUnix          int64

	// UsernameHashAlgorithm: added at revision 122; defaults to
	// UsernameHashPlain for shorter blocks.
	UsernameHashAlgorithm UsernameHashAlgorithm

	// Argon2 parameters: added at revision 131; default to the constants
	// above for shorter blocks.
	Argon2MemoryKiB   uint32
	Argon2Time        uint32
	Argon2Parallelism uint8

	// Migration fields: added at revision 141.
	MigrationTargetUsernameHashAlgorithm UsernameHashAlgorithm
	MigrationActive                      bool
	MigrationStartedAtUnix               int64
}

// Encode serializes p to the current (141-byte) revision. Per spec §4.4,
// writing is always bit-exact to the current revision — older revisions
// are never emitted, even if p was originally decoded from a shorter block.
func (p *SecurityPolicy) Encode() []byte {
	out := make([]byte, PolicyLenCurrent)

	out[0] = boolToByte(p.RequireToken)
	out[1] = p.MinPasswordLength
	binary.BigEndian.PutUint32(out[2:6], p.KDFIterations)
	out[6] = p.PasswordHistoryDepth
	out[7] = byte(p.KEKDerivationAlgorithm)
	out[8] = byte(p.TokenAlgorithm)
	copy(out[9:73], p.TokenChallenge[:])
	putInt64(out[73:81], p.CreatedAtUnix)
	// out[81:121] is reserved, left zero.

	out[121] = byte(p.UsernameHashAlgorithm)

	binary.BigEndian.PutUint32(out[122:126], p.Argon2MemoryKiB)
	binary.BigEndian.PutUint32(out[126:130], p.Argon2Time)
	out[130] = p.Argon2Parallelism

	out[131] = byte(p.MigrationTargetUsernameHashAlgorithm)
	out[132] = boolToByte(p.MigrationActive)
	putInt64(out[133:141], p.MigrationStartedAtUnix)

	return out
}

// DecodeSecurityPolicy parses a policy block of at least 121 bytes (spec
// §4.4); a shorter block is rejected as Corrupted. Blocks of at least 122,
// 131 and 141 bytes carry the later field groups, and bytes past 141 are
// ignored. Out-of-range field values are rejected as InvalidData.
func DecodeSecurityPolicy(b []byte) (*SecurityPolicy, error) {
	if len(b) < PolicyLenV1Base {
		return nil, vaulterrors.New(vaulterrors.KindCorrupted)
	}

	p := &SecurityPolicy{
		UsernameHashAlgorithm: UsernameHashPlain,
		Argon2MemoryKiB:       DefaultArgon2MemoryKiB,
		Argon2Time:            DefaultArgon2Time,
		Argon2Parallelism:     DefaultArgon2Parallelism,
	}

	p.RequireToken = b[0] != 0
	p.MinPasswordLength = b[1]
	p.KDFIterations = binary.BigEndian.Uint32(b[2:6])
	p.PasswordHistoryDepth = b[6]
	p.KEKDerivationAlgorithm = KEKDerivationAlgorithm(b[7])
	p.TokenAlgorithm = TokenAlgorithm(b[8])
	copy(p.TokenChallenge[:], b[9:73])
	p.CreatedAtUnix = getInt64(b[73:81])

	if len(b) >= PolicyLenWithUsername {
		p.UsernameHashAlgorithm = UsernameHashAlgorithm(b[121])
	}
	if len(b) >= PolicyLenWithArgon2 {
		p.Argon2MemoryKiB = binary.BigEndian.Uint32(b[122:126])
		p.Argon2Time = binary.BigEndian.Uint32(b[126:130])
		p.Argon2Parallelism = b[130]
	}
	if len(b) >= PolicyLenCurrent {
		p.MigrationTargetUsernameHashAlgorithm = UsernameHashAlgorithm(b[131])
		p.MigrationActive = b[132] != 0
		p.MigrationStartedAtUnix = getInt64(b[133:141])
	}

	if err := p.validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// validate enforces the numeric ranges spec §3/§4.4 place on a policy
// block, returning InvalidData on any violation.
func (p *SecurityPolicy) validate() error {
	if p.MinPasswordLength < 8 || p.MinPasswordLength > 128 {
		return vaulterrors.New(vaulterrors.KindInvalidData)
	}
	if p.KDFIterations < 100_000 || p.KDFIterations > 1_000_000 {
		return vaulterrors.New(vaulterrors.KindInvalidData)
	}
	if p.PasswordHistoryDepth > 24 {
		return vaulterrors.New(vaulterrors.KindInvalidData)
	}
	if p.Argon2MemoryKiB < 8192 || p.Argon2MemoryKiB > 1_048_576 {
		return vaulterrors.New(vaulterrors.KindInvalidData)
	}
	if p.Argon2Time < 1 || p.Argon2Time > 10 {
		return vaulterrors.New(vaulterrors.KindInvalidData)
	}
	if p.Argon2Parallelism < 1 || p.Argon2Parallelism > 16 {
		return vaulterrors.New(vaulterrors.KindInvalidData)
	}
	return nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func putInt64(dst []byte, v int64) {
	binary.BigEndian.PutUint64(dst, uint64(v))
}

func getInt64(src []byte) int64 {
	return int64(binary.BigEndian.Uint64(src))
}
