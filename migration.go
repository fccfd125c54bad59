// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package vaultengine

import (
	"encoding/binary"
	"os"

	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/fec"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/keyhierarchy"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// V1 envelope flags (single byte, spec §6): bit0 marks the ciphertext as
// FEC-protected, bit1 marks the vault as token-gated.
const (
	flagsV1FEC   = 1 << 0
	flagsV1Token = 1 << 1

	v1SaltSize      = 32
	v1IVSize        = cryptoprimitives.GCMNonceSize
	v1FixedSize     = 4 + 4 + 4 + v1SaltSize + v1IVSize + 1 // magic, version, iters, salt, iv, flags
	v1TokenChalSize = 32
)

// decodedV1Envelope holds the parsed fields of a legacy single-user V1
// container file.
type decodedV1Envelope struct {
	KDFIterations  uint32
	Salt           []byte
	IV             []byte
	TokenRequired  bool
	TokenChallenge []byte
	Ciphertext     []byte
}

// decodeV1 parses a V1 container file: magic || version=1 || u32 iters ||
// 32-byte salt || 12-byte iv || u8 flags || optional FEC metadata (one
// redundancy-percent byte, with the remainder of the file FEC-encoded) ||
// optional token metadata (32-byte challenge) || ciphertext.
func decodeV1(raw []byte) (*decodedV1Envelope, error) {
	if len(raw) < v1FixedSize {
		return nil, vaulterrors.New(vaulterrors.KindCorrupted)
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != magicKPTW {
		return nil, vaulterrors.New(vaulterrors.KindCorrupted)
	}
	if binary.LittleEndian.Uint32(raw[4:8]) != versionV1 {
		return nil, vaulterrors.New(vaulterrors.KindUnsupportedVersion)
	}

	env := &decodedV1Envelope{
		KDFIterations: binary.LittleEndian.Uint32(raw[8:12]),
		Salt:          append([]byte(nil), raw[12:12+v1SaltSize]...),
		IV:            append([]byte(nil), raw[12+v1SaltSize:12+v1SaltSize+v1IVSize]...),
	}
	flags := raw[v1FixedSize-1]
	rest := raw[v1FixedSize:]

	if flags&flagsV1FEC != 0 {
		if len(rest) < 1 {
			return nil, vaulterrors.New(vaulterrors.KindCorrupted)
		}
		redundancyPercent := rest[0]
		decoded, err := fec.Decode(rest[1:])
		if err != nil {
			return nil, vaulterrors.Wrap(vaulterrors.KindFECDecodingFailed, err)
		}
		_ = redundancyPercent // recorded in the FEC shard header itself, not needed to decode
		rest = decoded
	}

	if flags&flagsV1Token != 0 {
		if len(rest) < v1TokenChalSize {
			return nil, vaulterrors.New(vaulterrors.KindCorrupted)
		}
		env.TokenRequired = true
		env.TokenChallenge = append([]byte(nil), rest[:v1TokenChalSize]...)
		rest = rest[v1TokenChalSize:]
	}

	env.Ciphertext = append([]byte(nil), rest...)
	return env, nil
}

// readV1 opens a V1 container at path: derives the password-only key
// directly (V1 has no per-user KEK/DEK split — the password-derived key
// decrypts the payload directly), XORing in tokenResponse first if the
// vault is token-gated, and returns the decrypted payload.
func readV1(path, password string, tokenResponse []byte) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vaulterrors.New(vaulterrors.KindNotFound)
		}
		return nil, vaulterrors.Wrap(vaulterrors.KindOpenFailed, err)
	}

	env, err := decodeV1(raw)
	if err != nil {
		return nil, err
	}

	key, err := keyhierarchy.DeriveKEK(header.KEKDerivationPBKDF2, password, env.Salt, env.KDFIterations, keyhierarchy.Argon2Params{})
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}
	if env.TokenRequired {
		key, err = keyhierarchy.CombineWithTokenResponse(key, tokenResponse)
		if err != nil {
			return nil, vaulterrors.New(vaulterrors.KindAuthenticationFailed)
		}
	}

	plaintext, err := cryptoprimitives.DecryptAESGCM(key, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}
	return plaintext, nil
}

// ConvertV1ToV2 migrates a legacy single-user vault at path to the V2
// multi-user container format, in place. Per spec §4.7: open V1 with its
// password, snapshot the original file to "<path>.v1.backup", create a V2
// vault at path with the recovered payload re-wrapped as the first
// administrator slot under adminUsername/adminPassword and policy, restoring
// the snapshot over path on any failure. Migration is irreversible once
// successful: a V1 reader cannot interpret the resulting V2 file.
func (e *Engine) ConvertV1ToV2(path, v1Password string, v1TokenResponse []byte, adminUsername, adminPassword string, policy CreatePolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireClosed(); err != nil {
		return err
	}

	payload, err := readV1(path, v1Password, v1TokenResponse)
	if err != nil {
		return err
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindReadFailed, err)
	}
	backupPath := path + ".v1.backup"
	if err := os.WriteFile(backupPath, original, 0o600); err != nil {
		return vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
	}

	if err := e.createV2WithPayload(path, adminUsername, adminPassword, policy, payload); err != nil {
		if restoreErr := os.WriteFile(path, original, 0o600); restoreErr != nil {
			e.log.Error().Err(restoreErr).Msg("failed to restore V1 vault after failed migration")
		}
		return err
	}

	e.log.Info().Str("path", path).Msg("vault migrated from V1 to V2")
	return nil
}
