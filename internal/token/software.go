// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package token

import (
	"context"
	"time"

	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// HMACDriver is an in-process Driver backed by a fixed HMAC-SHA256 secret.
// It never requires touch and is always present once constructed — useful
// for integration tests and the cmd/vaultdemo smoke binary, where there is
// no physical FIDO2 device to drive.
type HMACDriver struct {
	secret []byte
	info   Info
	absent bool
}

// NewHMACDriver constructs a driver that answers every challenge with
// HMAC-SHA256(secret, challenge).
func NewHMACDriver(secret []byte, info Info) *HMACDriver {
	return &HMACDriver{secret: secret, info: info}
}

// SetAbsent toggles whether IsPresent reports the token as attached,
// letting tests exercise the token-removed-mid-operation path.
func (d *HMACDriver) SetAbsent(absent bool) {
	d.absent = absent
}

// Initialize is a no-op for the in-process driver.
func (d *HMACDriver) Initialize(ctx context.Context) error { return nil }

// IsPresent reports the driver's configured presence state.
func (d *HMACDriver) IsPresent(ctx context.Context) bool { return !d.absent }

// Info returns the configured device metadata.
func (d *HMACDriver) Info(ctx context.Context) (Info, error) {
	if d.absent {
		return Info{}, vaulterrors.New(vaulterrors.KindTokenNotPresent)
	}
	return d.info, nil
}

// ChallengeResponse computes HMAC-SHA256(secret, challenge). requireTouch
// and timeout are accepted for interface compatibility but have no effect:
// there is nothing to wait on without physical hardware.
func (d *HMACDriver) ChallengeResponse(ctx context.Context, challenge []byte, requireTouch bool, timeout time.Duration) ([]byte, error) {
	if d.absent {
		return nil, vaulterrors.New(vaulterrors.KindTokenNotPresent)
	}
	select {
	case <-ctx.Done():
		return nil, vaulterrors.Wrap(vaulterrors.KindTokenChallengeResponseFailed, ctx.Err())
	default:
	}
	return cryptoprimitives.HMACSHA256(d.secret, challenge), nil
}
