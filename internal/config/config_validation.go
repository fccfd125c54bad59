// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

// validate checks that the final merged [EngineConfig] satisfies the bounds
// spec.md §3 places on KDF, FEC, backup, and policy fields before it is used
// to construct a vault engine.
//
// Returns nil if the configuration is valid, or a descriptive error
// otherwise.
func (cfg *EngineConfig) validate() error {
	switch cfg.KDF.Algorithm {
	case "pbkdf2":
		if cfg.KDF.Iterations < 100_000 || cfg.KDF.Iterations > 1_000_000 {
			return ErrInvalidKDFConfig
		}
	case "argon2id":
		if cfg.KDF.Argon2MemoryKiB < 8192 || cfg.KDF.Argon2MemoryKiB > 1_048_576 {
			return ErrInvalidKDFConfig
		}
		if cfg.KDF.Argon2Time < 1 || cfg.KDF.Argon2Time > 10 {
			return ErrInvalidKDFConfig
		}
		if cfg.KDF.Argon2Parallelism < 1 || cfg.KDF.Argon2Parallelism > 16 {
			return ErrInvalidKDFConfig
		}
	default:
		return ErrInvalidKDFConfig
	}

	if cfg.FEC.HeaderRedundancyPercent < 5 || cfg.FEC.HeaderRedundancyPercent > 50 {
		return ErrInvalidFECConfig
	}
	if cfg.FEC.PayloadRedundancyEnabled &&
		(cfg.FEC.PayloadRedundancyPercent < 5 || cfg.FEC.PayloadRedundancyPercent > 50) {
		return ErrInvalidFECConfig
	}

	if cfg.Backup.MaxBackups < 1 || cfg.Backup.MaxBackups > 50 {
		return ErrInvalidBackupConfig
	}

	if cfg.Policy.MinPasswordLength < 8 || cfg.Policy.MinPasswordLength > 128 {
		return ErrInvalidPolicyConfig
	}
	if cfg.Policy.PasswordHistoryDepth < 0 || cfg.Policy.PasswordHistoryDepth > 24 {
		return ErrInvalidPolicyConfig
	}

	return nil
}
