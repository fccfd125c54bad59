// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package token defines the abstract hardware-token driver contract a vault
// enrolls against. It mirrors the authenticator/credential shapes used by
// WebAuthn-style drivers (challenge in, user-presence-gated response out)
// without depending on any specific transport — a real driver backed by a
// FIDO2/PIV device, or a software driver used in tests, both implement
// Driver directly.
package token

import (
	"context"
	"time"

	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// Info describes the enrolled device, surfaced to callers deciding whether
// to prompt for touch or display a device name in a UI.
type Info struct {
	Serial    string
	Vendor    string
	Algorithm string
	AAGUID    string
}

// Driver is the abstract contract a concrete hardware-token implementation
// must satisfy. Implementations are never given password or DEK material —
// only opaque challenge bytes — keeping this package entirely free of the
// vault's key hierarchy.
type Driver interface {
	// Initialize prepares the driver for use (opens a device handle,
	// establishes a PC/SC or USB HID session, etc).
	Initialize(ctx context.Context) error

	// IsPresent reports whether a token is currently physically attached.
	IsPresent(ctx context.Context) bool

	// Info returns metadata about the attached token. Callers must check
	// IsPresent first; Info on an absent token returns ErrTokenNotPresent.
	Info(ctx context.Context) (Info, error)

	// ChallengeResponse performs a challenge-response exchange with the
	// attached token. When requireTouch is true the call blocks until the
	// user physically confirms presence or timeout elapses. The response
	// length matches the HMAC output size of the token's configured
	// algorithm (at least SHA-256, 32 bytes).
	ChallengeResponse(ctx context.Context, challenge []byte, requireTouch bool, timeout time.Duration) ([]byte, error)
}

// NoneDriver is a Driver that reports no token ever present. It is the
// default when a host application configures a vault with
// require_token=false and never wires a real driver.
type NoneDriver struct{}

// Initialize is a no-op; NoneDriver never fails to initialize.
func (NoneDriver) Initialize(ctx context.Context) error { return nil }

// IsPresent always reports false.
func (NoneDriver) IsPresent(ctx context.Context) bool { return false }

// Info always fails with ErrTokenNotPresent.
func (NoneDriver) Info(ctx context.Context) (Info, error) {
	return Info{}, vaulterrors.New(vaulterrors.KindTokenNotPresent)
}

// ChallengeResponse always fails with ErrTokenNotPresent.
func (NoneDriver) ChallengeResponse(ctx context.Context, challenge []byte, requireTouch bool, timeout time.Duration) ([]byte, error) {
	return nil, vaulterrors.New(vaulterrors.KindTokenNotPresent)
}
