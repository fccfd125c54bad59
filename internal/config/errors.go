package config

import "errors"

// Validation errors returned by [EngineConfig.validate] when a configuration
// group falls outside the bounds spec.md §3 requires.
var (
	// ErrInvalidKDFConfig indicates an out-of-range KDF algorithm or
	// parameter (iterations, Argon2 memory/time/parallelism).
	ErrInvalidKDFConfig = errors.New("invalid KDF configuration")
	// ErrInvalidFECConfig indicates a header or payload redundancy percent
	// outside [5, 50].
	ErrInvalidFECConfig = errors.New("invalid FEC configuration")
	// ErrInvalidBackupConfig indicates a backup retention count outside
	// [1, 50].
	ErrInvalidBackupConfig = errors.New("invalid backup configuration")
	// ErrInvalidPolicyConfig indicates an out-of-range default security
	// policy value (password length or history depth).
	ErrInvalidPolicyConfig = errors.New("invalid policy configuration")
)
