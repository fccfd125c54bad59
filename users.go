// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package vaultengine

import (
	"context"

	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// tokenChallengeSize matches header.KeySlot's TokenChallenge field width.
const tokenChallengeSize = 32

// AddUser adds a new user slot to the open vault. The caller (the session
// currently bound to this engine) must be an administrator. Returns the
// new slot's index.
func (e *Engine) AddUser(username, password string, role header.Role) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOpen(); err != nil {
		return 0, err
	}
	return e.sessionMgr.AddUser(e.header, e.session, e.dek.Bytes(), username, password, role)
}

// RemoveUser deactivates username's slot. The caller must be an
// administrator and may not remove themself or the vault's last active
// administrator.
func (e *Engine) RemoveUser(username string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOpen(); err != nil {
		return err
	}
	return e.sessionMgr.RemoveUser(e.header, e.session, username)
}

// ChangePassword changes username's password, verifying oldPassword (and
// tokenResponse, if a token is enrolled) first. The caller must be
// username or an administrator.
func (e *Engine) ChangePassword(username, oldPassword, newPassword string, tokenResponse []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOpen(); err != nil {
		return err
	}
	return e.sessionMgr.ChangePassword(e.header, e.session, e.dek.Bytes(), username, oldPassword, newPassword, tokenResponse)
}

// AdminResetPassword resets username's password without verifying the old
// one. The caller must be an administrator.
func (e *Engine) AdminResetPassword(username, newPassword string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOpen(); err != nil {
		return err
	}
	return e.sessionMgr.AdminResetPassword(e.header, e.session, e.dek.Bytes(), username, newPassword)
}

// EnrollToken enrolls the engine's configured [internal/token.Driver] for
// username: verifies password, generates a fresh challenge, performs the
// challenge-response exchange with the physical device (demanding touch),
// and re-wraps the DEK under the combined key. The caller must be username
// or an administrator.
func (e *Engine) EnrollToken(username, password string, deviceSerial string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOpen(); err != nil {
		return err
	}

	challenge, err := cryptoprimitives.RandomBytes(tokenChallengeSize)
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Policy.TokenEnrollmentTimeout)
	defer cancel()

	responseFn := func(challenge []byte) ([]byte, error) {
		return e.driver.ChallengeResponse(ctx, challenge, true, e.cfg.Policy.TokenEnrollmentTimeout)
	}

	return e.sessionMgr.EnrollToken(e.header, e.session, e.dek.Bytes(), username, password, challenge, deviceSerial, responseFn)
}

// UnenrollToken removes username's token enrollment, verifying password
// and tokenResponse first. The caller must be username or an
// administrator.
func (e *Engine) UnenrollToken(username, password string, tokenResponse []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOpen(); err != nil {
		return err
	}
	return e.sessionMgr.UnenrollToken(e.header, e.session, e.dek.Bytes(), username, password, tokenResponse)
}

// UpdatePolicy updates the mutable subset of the open vault's security
// policy in place. The caller must be an administrator. Per spec §3,
// SecurityPolicy is immutable-at-creation for its KDF and username-hash
// fields: every existing slot's wrapped DEK was wrapped under a KEK derived
// with the vault's current kdf_iterations/kek_derivation_algorithm/Argon2
// parameters, and Authenticate re-derives every slot's KEK with the
// vault-wide kdf_iterations and Argon2 parameters (only the derivation
// algorithm is recorded per slot), so changing any of them live would
// make every other slot un-unwrappable. Likewise username_hash_algorithm
// feeds username lookup for every slot, not just future ones. p's zero
// values mean "leave unchanged"; a non-zero attempt to change one of these
// immutable fields is rejected rather than silently locking out the rest of
// the vault.
func (e *Engine) UpdatePolicy(p CreatePolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOpen(); err != nil {
		return err
	}
	if e.session.Role != header.RoleAdministrator {
		return vaulterrors.New(vaulterrors.KindCallerPermissionDenied)
	}

	current := e.header.Policy
	if p.KDFIterations != 0 && p.KDFIterations != current.KDFIterations {
		return vaulterrors.New(vaulterrors.KindImmutablePolicyField)
	}
	if p.KEKDerivationAlgorithm != 0 && p.KEKDerivationAlgorithm != current.KEKDerivationAlgorithm {
		return vaulterrors.New(vaulterrors.KindImmutablePolicyField)
	}
	if p.UsernameHashAlgorithm != 0 && p.UsernameHashAlgorithm != current.UsernameHashAlgorithm {
		return vaulterrors.New(vaulterrors.KindImmutablePolicyField)
	}
	if p.Argon2MemoryKiB != 0 && p.Argon2MemoryKiB != current.Argon2MemoryKiB {
		return vaulterrors.New(vaulterrors.KindImmutablePolicyField)
	}
	if p.Argon2Time != 0 && p.Argon2Time != current.Argon2Time {
		return vaulterrors.New(vaulterrors.KindImmutablePolicyField)
	}
	if p.Argon2Parallelism != 0 && p.Argon2Parallelism != current.Argon2Parallelism {
		return vaulterrors.New(vaulterrors.KindImmutablePolicyField)
	}

	current.RequireToken = p.RequireToken
	if p.MinPasswordLength != 0 {
		current.MinPasswordLength = uint8(p.MinPasswordLength)
	}
	if p.PasswordHistoryDepth != 0 {
		current.PasswordHistoryDepth = uint8(p.PasswordHistoryDepth)
	}
	if p.TokenAlgorithm != 0 {
		current.TokenAlgorithm = p.TokenAlgorithm
	}

	e.log.Info().Msg("vault policy updated")
	return nil
}
