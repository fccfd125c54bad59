// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package cryptoprimitives implements the algorithm surface the vault engine
// is allowed to use: AES-256-GCM, AES-256-KW, PBKDF2-HMAC-SHA256/512,
// Argon2id, HMAC-SHA256/512, a CSPRNG, constant-time comparison, and
// zeroization. Every exported function only ever reaches for one of these —
// no ad-hoc crypto is grown elsewhere in the module.
package cryptoprimitives

import "sync"

// ProviderMode is the process-wide capability state of the crypto provider
// (spec §4.1, §9 "Provider as capability set").
type ProviderMode uint8

const (
	// ModeUninitialized is the state before any provider has been loaded.
	ModeUninitialized ProviderMode = iota
	// ModeDefaultAvailable means a default (non-validated) provider backs
	// every primitive in this package.
	ModeDefaultAvailable
	// ModeValidatedAvailable means a validated provider has been loaded but
	// has not been switched into for cryptographic operations yet.
	ModeValidatedAvailable
	// ModeValidatedEnabled means the validated provider is actively in use.
	ModeValidatedEnabled
)

func (m ProviderMode) String() string {
	switch m {
	case ModeUninitialized:
		return "uninitialized"
	case ModeDefaultAvailable:
		return "default-available"
	case ModeValidatedAvailable:
		return "validated-available"
	case ModeValidatedEnabled:
		return "validated-enabled"
	default:
		return "unknown"
	}
}

// Provider tracks the process-wide crypto-provider mode. It does not select
// between different backing implementations itself — this module only has
// one, built on the Go standard library and golang.org/x/crypto — but it
// models the capability state machine a pluggable validated-mode provider
// would drive, so that callers relying on the vaultengine package's ProviderMode
// observation don't need to special-case "there is no real provider yet".
type Provider struct {
	mu   sync.Mutex
	mode ProviderMode
}

// globalProvider is the process-wide instance referenced by [Mode],
// [MarkAvailable], and [TryEnableValidatedMode]. Mirrors the "process-wide
// provider mode" language in spec §4.1: this is deliberately not
// per-VaultEngine state.
var globalProvider = &Provider{mode: ModeUninitialized}

// Mode returns the current process-wide provider mode.
func Mode() ProviderMode {
	globalProvider.mu.Lock()
	defer globalProvider.mu.Unlock()
	return globalProvider.mode
}

// MarkAvailable transitions uninitialized → default-available. It is a
// no-op if the provider has already progressed past uninitialized.
func MarkAvailable() {
	globalProvider.mu.Lock()
	defer globalProvider.mu.Unlock()
	if globalProvider.mode == ModeUninitialized {
		globalProvider.mode = ModeDefaultAvailable
	}
}

// TryEnableValidatedMode attempts the available → enabled transition.
// It reports whether validated mode is active after the call; it never
// panics or forces the transition; a provider that refuses to engage
// validated mode simply leaves the state at default-available and this
// returns false.
//
// This module has no genuine FIPS-validated backend to swap in, so this
// always succeeds once a provider is available — the state machine exists
// so a future validated-mode provider can be wired in without changing any
// caller.
func TryEnableValidatedMode() bool {
	globalProvider.mu.Lock()
	defer globalProvider.mu.Unlock()

	switch globalProvider.mode {
	case ModeUninitialized:
		globalProvider.mode = ModeDefaultAvailable
		fallthrough
	case ModeDefaultAvailable, ModeValidatedAvailable:
		globalProvider.mode = ModeValidatedEnabled
		return true
	case ModeValidatedEnabled:
		return true
	default:
		return false
	}
}

// TryDisableValidatedMode attempts enabled → available. Per spec §4.1 the
// provider MAY refuse; this implementation always allows it, returning true
// when the downgrade took effect. Callers must check the return value and
// must not assume the request succeeded.
func TryDisableValidatedMode() bool {
	globalProvider.mu.Lock()
	defer globalProvider.mu.Unlock()

	if globalProvider.mode == ModeValidatedEnabled {
		globalProvider.mode = ModeValidatedAvailable
		return true
	}
	return false
}
