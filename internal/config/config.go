// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"time"
)

// EngineConfig is the top-level configuration container for a vault engine
// instance. It aggregates all tuning sub-configurations and is populated by
// merging values from environment variables, command-line flags, and an
// optional JSON file. None of these fields carry secret material — they only
// tune work factors, redundancy, and retention.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type EngineConfig struct {
	// KDF holds password-based key-derivation tuning for [internal/keyhierarchy].
	KDF KDF `envPrefix:"KDF_"`

	// FEC holds Reed-Solomon redundancy tuning for [internal/fec].
	FEC FEC `envPrefix:"FEC_"`

	// Backup holds rotation settings for explicit-save snapshots.
	Backup Backup `envPrefix:"BACKUP_"`

	// Policy holds the default [SecurityPolicy] values applied to newly
	// created vaults, before any caller-supplied override.
	Policy Policy `envPrefix:"POLICY_"`

	// Provider holds crypto-provider mode preferences.
	Provider Provider `envPrefix:"PROVIDER_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and merged on top of the values
	// already loaded from environment variables and flags.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// KDF controls the default work factor used when deriving a KEK from a
// user's password. See spec §3 for the accepted ranges.
type KDF struct {
	// Algorithm selects "pbkdf2" or "argon2id". Env: KDF_ALGORITHM
	Algorithm string `env:"ALGORITHM"`

	// Iterations is the PBKDF2-HMAC-SHA256 iteration count, valid in
	// [100000, 1000000]. Env: KDF_ITERATIONS
	Iterations uint32 `env:"ITERATIONS"`

	// Argon2MemoryKiB is the Argon2id memory parameter in KiB, valid in
	// [8192, 1048576]. Env: KDF_ARGON2_MEMORY_KIB
	Argon2MemoryKiB uint32 `env:"ARGON2_MEMORY_KIB"`

	// Argon2Time is the Argon2id time parameter, valid in [1, 10].
	// Env: KDF_ARGON2_TIME
	Argon2Time uint32 `env:"ARGON2_TIME"`

	// Argon2Parallelism is the Argon2id parallelism parameter, valid in
	// [1, 16]. Env: KDF_ARGON2_PARALLELISM
	Argon2Parallelism uint8 `env:"ARGON2_PARALLELISM"`
}

// FEC controls Reed-Solomon redundancy applied around the header and,
// optionally, the payload ciphertext.
type FEC struct {
	// HeaderRedundancyPercent is the requested redundancy percent for the
	// header envelope, valid in [5, 50]. The engine always enforces an
	// effective floor of 20% regardless of this value (spec §4.3).
	// Env: FEC_HEADER_REDUNDANCY_PERCENT
	HeaderRedundancyPercent uint8 `env:"HEADER_REDUNDANCY_PERCENT"`

	// PayloadRedundancyEnabled turns on optional FEC framing around the
	// encrypted payload. Env: FEC_PAYLOAD_REDUNDANCY_ENABLED
	PayloadRedundancyEnabled bool `env:"PAYLOAD_REDUNDANCY_ENABLED"`

	// PayloadRedundancyPercent is the requested redundancy percent for the
	// payload, valid in [5, 50] when enabled.
	// Env: FEC_PAYLOAD_REDUNDANCY_PERCENT
	PayloadRedundancyPercent uint8 `env:"PAYLOAD_REDUNDANCY_PERCENT"`
}

// Backup controls explicit-save snapshot rotation.
type Backup struct {
	// Dir is parsed and carried in the configuration but not read by the
	// engine: backups are always written next to the vault file.
	// Env: BACKUP_DIR
	Dir string `env:"DIR"`

	// MaxBackups is the maximum number of timestamped backups retained per
	// vault, valid in [1, 50]. Env: BACKUP_MAX_BACKUPS
	MaxBackups int `env:"MAX_BACKUPS"`
}

// Policy holds the default [SecurityPolicy] seed values used by
// VaultEngine.CreateV2 when the caller does not override them.
type Policy struct {
	// RequireToken mirrors SecurityPolicy.RequireToken. Env: POLICY_REQUIRE_TOKEN
	RequireToken bool `env:"REQUIRE_TOKEN"`

	// MinPasswordLength mirrors SecurityPolicy.MinPasswordLength, valid in
	// [8, 128]. Env: POLICY_MIN_PASSWORD_LENGTH
	MinPasswordLength int `env:"MIN_PASSWORD_LENGTH"`

	// PasswordHistoryDepth mirrors SecurityPolicy.PasswordHistoryDepth,
	// valid in [0, 24]. Env: POLICY_PASSWORD_HISTORY_DEPTH
	PasswordHistoryDepth int `env:"PASSWORD_HISTORY_DEPTH"`

	// UsernameHashAlgorithm names a SecurityPolicy.UsernameHashAlgorithm. It
	// is not read by CreateV2, which uses CreatePolicy.UsernameHashAlgorithm
	// as given. Env: POLICY_USERNAME_HASH_ALGORITHM
	UsernameHashAlgorithm string `env:"USERNAME_HASH_ALGORITHM"`

	// TokenEnrollmentTimeout bounds how long an enroll/challenge-response
	// round trip with a hardware token may block.
	// Env: POLICY_TOKEN_ENROLLMENT_TIMEOUT
	TokenEnrollmentTimeout time.Duration `env:"TOKEN_ENROLLMENT_TIMEOUT"`
}

// Provider controls which crypto-provider mode the engine attempts to
// negotiate at startup (spec §4.1, §9 "Provider as capability set").
type Provider struct {
	// RequireValidatedMode, when true, causes engine construction to fail
	// if the validated-mode provider cannot be enabled.
	// Env: PROVIDER_REQUIRE_VALIDATED_MODE
	RequireValidatedMode bool `env:"REQUIRE_VALIDATED_MODE"`

	// PageLockEnabled controls whether [internal/securebuffer] attempts to
	// page-lock secret buffers. Best-effort regardless of this flag; it
	// only controls whether the attempt is made at all.
	// Env: PROVIDER_PAGE_LOCK_ENABLED
	PageLockEnabled bool `env:"PAGE_LOCK_ENABLED"`
}

// GetEngineConfig loads, merges, and validates the engine configuration from
// all available sources, consulted in the following order (the first source
// to set a given field wins; later sources only fill in what's left zero):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//
// Any field still unset after all three sources falls back to [Default].
//
// Returns a fully populated *EngineConfig or an error if any source fails to
// load or the final config fails validation.
func GetEngineConfig() (*EngineConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags().
		withJSON().
		build()
}

// Default returns the hardcoded baseline configuration used when no
// environment, flag, or JSON source overrides it: PBKDF2 at 100,000
// iterations, 20% header redundancy, no payload redundancy, 5 retained
// backups, no required token, an 8-character minimum password, and a
// 3-entry password history.
func Default() *EngineConfig {
	return &EngineConfig{
		KDF: KDF{
			Algorithm:         "pbkdf2",
			Iterations:        100_000,
			Argon2MemoryKiB:   64 * 1024,
			Argon2Time:        3,
			Argon2Parallelism: 4,
		},
		FEC: FEC{
			HeaderRedundancyPercent:  20,
			PayloadRedundancyEnabled: false,
			PayloadRedundancyPercent: 10,
		},
		Backup: Backup{
			Dir:        "",
			MaxBackups: 5,
		},
		Policy: Policy{
			RequireToken:           false,
			MinPasswordLength:      8,
			PasswordHistoryDepth:   3,
			UsernameHashAlgorithm:  "plain",
			TokenEnrollmentTimeout: 30 * time.Second,
		},
		Provider: Provider{
			RequireValidatedMode: false,
			PageLockEnabled:      true,
		},
	}
}
