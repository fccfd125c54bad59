// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package session implements SessionState and the access-control and
// multi-user mutation rules gating it. It operates entirely against an
// in-memory [header.VaultHeader]; persistence and FEC framing belong one
// layer up, in vaultengine.
package session

import (
	"time"

	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/keyhierarchy"
	"github.com/rkhiriev/vaultengine/internal/logger"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// usernameSaltSize matches header.KeySlot's UsernameSalt field width.
const usernameSaltSize = 16

// Clock supplies the current time as a Unix timestamp. Tests substitute a
// fixed clock; production code uses [UnixClock].
type Clock func() int64

// UnixClock returns time.Now().Unix(). It is a var, not a direct call to
// time.Now, so callers needing a literal function value (rather than a
// wrapper closure) can reference it directly.
var UnixClock Clock = defaultClock

// Session is created on successful vault open and lives until close. It
// never itself holds the DEK or any key material (that stays in the
// engine's SecureBuffer), only the authenticated identity and the two
// transient flags describing what the caller must do next.
type Session struct {
	Username                string
	Role                    header.Role
	MustChangePassword      bool
	RequiresTokenEnrollment bool
}

// Manager applies the multi-user mutation rules against a
// [header.VaultHeader], given the vault-wide DEK (already unwrapped and
// resident in the engine's SecureBuffer — Manager borrows it only for the
// duration of a single call, it never retains a copy).
type Manager struct {
	log   *logger.Logger
	clock Clock
}

// New constructs a Manager. log defaults to [logger.Nop] if nil; clock
// defaults to [UnixClock] if nil.
func New(log *logger.Logger, clock Clock) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	if clock == nil {
		clock = UnixClock
	}
	return &Manager{log: log, clock: clock}
}

// Authenticate verifies username/password (and token response, if that
// slot has one enrolled) against h, unwrapping the DEK on success. Per
// design, a wrong password, a wrong token response, and a tampered slot
// all collapse to the same vaulterrors.ErrAuthenticationFailed: the
// caller never learns which. The slot's last_login_at is NOT updated here
// (the caller does that after a successful open commits).
func (m *Manager) Authenticate(h *header.VaultHeader, username, password string, tokenResponse []byte) (*header.KeySlot, *Session, []byte, error) {
	slot := findActiveSlotByUsername(h, username)
	if slot == nil {
		m.log.Debug().Str("username", username).Msg("authentication failed: no such active user")
		return nil, nil, nil, vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}

	kek, err := keyhierarchy.DeriveKEK(slot.KEKDerivationAlgorithm, password, slot.PasswordSalt[:], h.Policy.KDFIterations, argon2ParamsFromPolicy(h.Policy))
	if err != nil {
		m.log.Debug().Err(err).Msg("authentication failed: kek derivation error")
		return nil, nil, nil, vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}

	finalKEK := kek
	if slot.TokenEnrolled {
		finalKEK, err = keyhierarchy.CombineWithTokenResponse(kek, tokenResponse)
		if err != nil {
			m.log.Debug().Err(err).Msg("authentication failed: token combine error")
			return nil, nil, nil, vaulterrors.New(vaulterrors.KindAuthenticationFailed)
		}
	}

	dek, err := keyhierarchy.Unwrap(finalKEK, slot.WrappedDEK[:])
	if err != nil {
		m.log.Debug().Err(err).Msg("authentication failed: unwrap error")
		return nil, nil, nil, vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}

	sess := &Session{
		Username:                username,
		Role:                    slot.Role,
		MustChangePassword:      slot.MustChangePassword,
		RequiresTokenEnrollment: h.Policy.RequireToken && !slot.TokenEnrolled,
	}
	return slot, sess, dek, nil
}

// AddUser adds a new standard or administrator slot. Caller must be an
// administrator. Returns the new slot's index in h.Slots.
func (m *Manager) AddUser(h *header.VaultHeader, caller *Session, dek []byte, username, password string, role header.Role) (int, error) {
	if caller.Role != header.RoleAdministrator {
		return 0, vaulterrors.New(vaulterrors.KindCallerPermissionDenied)
	}
	if findActiveSlotByUsername(h, username) != nil {
		return 0, vaulterrors.New(vaulterrors.KindUserAlreadyExists)
	}
	if len(password) < int(h.Policy.MinPasswordLength) {
		return 0, vaulterrors.New(vaulterrors.KindWeakPassword)
	}

	slotIdx := findFreeSlotIndex(h)
	if slotIdx < 0 {
		return 0, vaulterrors.New(vaulterrors.KindMaxUsersReached)
	}

	passwordSalt, err := keyhierarchy.GenerateSalt()
	if err != nil {
		return 0, vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	kek, err := keyhierarchy.DeriveKEK(h.Policy.KEKDerivationAlgorithm, password, passwordSalt, h.Policy.KDFIterations, argon2ParamsFromPolicy(h.Policy))
	if err != nil {
		return 0, vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	wrapped, err := keyhierarchy.Wrap(kek, dek)
	if err != nil {
		return 0, err
	}

	usernameSalt, err := cryptoprimitives.RandomBytes(usernameSaltSize)
	if err != nil {
		return 0, vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	usernameHash := cryptoprimitives.HashUsername(cryptoprimitives.UsernameHashAlgorithm(h.Policy.UsernameHashAlgorithm), username, usernameSalt)

	slot := &header.KeySlot{
		Active:                 true,
		KEKDerivationAlgorithm: h.Policy.KEKDerivationAlgorithm,
		UsernameHash:           usernameHash,
		Role:                   role,
		MustChangePassword:     true,
		PasswordChangedAtUnix:  m.clock(),
	}
	copy(slot.UsernameSalt[:], usernameSalt)
	copy(slot.PasswordSalt[:], passwordSalt)
	copy(slot.WrappedDEK[:], wrapped)

	if slotIdx == len(h.Slots) {
		h.Slots = append(h.Slots, slot)
	} else {
		h.Slots[slotIdx] = slot
	}

	m.log.Info().Str("username", username).Msg("user added")
	return slotIdx, nil
}

// RemoveUser deactivates username's slot (preserved, never compacted).
// Caller must be an administrator; refuses self-removal and refuses
// removing the vault's last active administrator.
func (m *Manager) RemoveUser(h *header.VaultHeader, caller *Session, username string) error {
	if caller.Role != header.RoleAdministrator {
		return vaulterrors.New(vaulterrors.KindCallerPermissionDenied)
	}
	if username == caller.Username {
		return vaulterrors.New(vaulterrors.KindSelfRemovalNotAllowed)
	}

	slot := findActiveSlotByUsername(h, username)
	if slot == nil {
		return vaulterrors.New(vaulterrors.KindUserNotFound)
	}

	if slot.Role == header.RoleAdministrator && countActiveAdmins(h) <= 1 {
		return vaulterrors.New(vaulterrors.KindLastAdministrator)
	}

	slot.Active = false
	m.log.Info().Str("username", username).Msg("user removed")
	return nil
}

// ChangePassword changes username's password. caller may be username
// itself or an administrator. Verifies the old password (folding in the
// token response if one is enrolled), validates the new password's
// length, checks it against the password history, re-derives and re-wraps
// under a fresh salt (preserving any token enrollment with its existing
// challenge), and appends the retired password to the history ring with
// FIFO eviction at the policy's configured depth.
func (m *Manager) ChangePassword(h *header.VaultHeader, caller *Session, dek []byte, username, oldPassword, newPassword string, tokenResponse []byte) error {
	if caller.Username != username && caller.Role != header.RoleAdministrator {
		return vaulterrors.New(vaulterrors.KindCallerPermissionDenied)
	}

	slot := findActiveSlotByUsername(h, username)
	if slot == nil {
		return vaulterrors.New(vaulterrors.KindUserNotFound)
	}

	oldKEK, err := keyhierarchy.DeriveKEK(slot.KEKDerivationAlgorithm, oldPassword, slot.PasswordSalt[:], h.Policy.KDFIterations, argon2ParamsFromPolicy(h.Policy))
	if err != nil {
		return vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}
	finalOldKEK := oldKEK
	if slot.TokenEnrolled {
		finalOldKEK, err = keyhierarchy.CombineWithTokenResponse(oldKEK, tokenResponse)
		if err != nil {
			return vaulterrors.New(vaulterrors.KindAuthenticationFailed)
		}
	}
	if _, err := keyhierarchy.Unwrap(finalOldKEK, slot.WrappedDEK[:]); err != nil {
		return vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}

	if len(newPassword) < int(h.Policy.MinPasswordLength) {
		return vaulterrors.New(vaulterrors.KindWeakPassword)
	}
	for _, entry := range slot.PasswordHistory {
		if keyhierarchy.MatchesPasswordHistory(newPassword, entry) {
			return vaulterrors.New(vaulterrors.KindPasswordReused)
		}
	}

	newSalt, err := keyhierarchy.GenerateSalt()
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	newKEK, err := keyhierarchy.DeriveKEK(slot.KEKDerivationAlgorithm, newPassword, newSalt, h.Policy.KDFIterations, argon2ParamsFromPolicy(h.Policy))
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	finalNewKEK := newKEK
	if slot.TokenEnrolled {
		finalNewKEK, err = keyhierarchy.CombineWithTokenResponse(newKEK, tokenResponse)
		if err != nil {
			return vaulterrors.Wrap(vaulterrors.KindCryptoProviderError, err)
		}
	}
	wrapped, err := keyhierarchy.Wrap(finalNewKEK, dek)
	if err != nil {
		return err
	}

	historyEntry, err := keyhierarchy.HashForPasswordHistory(oldPassword)
	if err != nil {
		return err
	}
	historyEntry.ChangedAtUnix = m.clock()

	copy(slot.PasswordSalt[:], newSalt)
	copy(slot.WrappedDEK[:], wrapped)
	slot.PasswordChangedAtUnix = m.clock()
	slot.MustChangePassword = false
	slot.PasswordHistory = appendHistoryFIFO(slot.PasswordHistory, *historyEntry, int(h.Policy.PasswordHistoryDepth))

	m.log.Info().Str("username", username).Msg("password changed")
	return nil
}

// AdminResetPassword resets username's password without verifying the old
// one. Forces must_change_password, clears the password history, and
// unenrolls any token (the admin performing the reset has no physical
// device to prove possession of it).
func (m *Manager) AdminResetPassword(h *header.VaultHeader, caller *Session, dek []byte, username, newPassword string) error {
	if caller.Role != header.RoleAdministrator {
		return vaulterrors.New(vaulterrors.KindCallerPermissionDenied)
	}
	slot := findActiveSlotByUsername(h, username)
	if slot == nil {
		return vaulterrors.New(vaulterrors.KindUserNotFound)
	}
	if len(newPassword) < int(h.Policy.MinPasswordLength) {
		return vaulterrors.New(vaulterrors.KindWeakPassword)
	}

	newSalt, err := keyhierarchy.GenerateSalt()
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	kek, err := keyhierarchy.DeriveKEK(slot.KEKDerivationAlgorithm, newPassword, newSalt, h.Policy.KDFIterations, argon2ParamsFromPolicy(h.Policy))
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	wrapped, err := keyhierarchy.Wrap(kek, dek)
	if err != nil {
		return err
	}

	copy(slot.PasswordSalt[:], newSalt)
	copy(slot.WrappedDEK[:], wrapped)
	slot.MustChangePassword = true
	slot.PasswordHistory = nil
	slot.PasswordChangedAtUnix = m.clock()
	clearTokenEnrollment(slot)

	m.log.Info().Str("username", username).Msg("password administratively reset")
	return nil
}

// EnrollToken enrolls a hardware token for username: verifies the current
// password, generates a fresh challenge, and re-wraps the DEK under the
// KEK combined with the enrollment response. challengeResponseFn performs
// the actual challenge-response with the physical device (it must demand
// user presence/touch) and is supplied by the caller so this package stays
// free of any token-transport dependency; see internal/token for the
// concrete driver.
func (m *Manager) EnrollToken(h *header.VaultHeader, caller *Session, dek []byte, username, password string, newChallenge []byte, deviceSerial string, responseFn func(challenge []byte) ([]byte, error)) error {
	if caller.Username != username && caller.Role != header.RoleAdministrator {
		return vaulterrors.New(vaulterrors.KindCallerPermissionDenied)
	}
	slot := findActiveSlotByUsername(h, username)
	if slot == nil {
		return vaulterrors.New(vaulterrors.KindUserNotFound)
	}

	kek, err := keyhierarchy.DeriveKEK(slot.KEKDerivationAlgorithm, password, slot.PasswordSalt[:], h.Policy.KDFIterations, argon2ParamsFromPolicy(h.Policy))
	if err != nil {
		return vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}
	if _, err := keyhierarchy.Unwrap(kek, slot.WrappedDEK[:]); err != nil {
		return vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}

	response, err := responseFn(newChallenge)
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindTokenChallengeResponseFailed, err)
	}

	finalKEK, err := keyhierarchy.CombineWithTokenResponse(kek, response)
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindCryptoProviderError, err)
	}
	wrapped, err := keyhierarchy.Wrap(finalKEK, dek)
	if err != nil {
		return err
	}

	copy(slot.WrappedDEK[:], wrapped)
	slot.TokenEnrolled = true
	copy(slot.TokenChallenge[:], newChallenge)
	slot.TokenSerial = deviceSerial
	slot.TokenEnrolledAtUnix = m.clock()

	m.log.Info().Str("username", username).Msg("token enrolled")
	return nil
}

// UnenrollToken removes username's token enrollment: verifies the
// password and current token, regenerates the password salt, derives a
// password-only KEK, re-wraps the DEK, and clears the token fields.
func (m *Manager) UnenrollToken(h *header.VaultHeader, caller *Session, dek []byte, username, password string, tokenResponse []byte) error {
	if caller.Username != username && caller.Role != header.RoleAdministrator {
		return vaulterrors.New(vaulterrors.KindCallerPermissionDenied)
	}
	slot := findActiveSlotByUsername(h, username)
	if slot == nil {
		return vaulterrors.New(vaulterrors.KindUserNotFound)
	}
	if !slot.TokenEnrolled {
		return vaulterrors.New(vaulterrors.KindTokenMetadataMissing)
	}

	kek, err := keyhierarchy.DeriveKEK(slot.KEKDerivationAlgorithm, password, slot.PasswordSalt[:], h.Policy.KDFIterations, argon2ParamsFromPolicy(h.Policy))
	if err != nil {
		return vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}
	finalKEK, err := keyhierarchy.CombineWithTokenResponse(kek, tokenResponse)
	if err != nil {
		return vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}
	if _, err := keyhierarchy.Unwrap(finalKEK, slot.WrappedDEK[:]); err != nil {
		return vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}

	newSalt, err := keyhierarchy.GenerateSalt()
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	passwordOnlyKEK, err := keyhierarchy.DeriveKEK(slot.KEKDerivationAlgorithm, password, newSalt, h.Policy.KDFIterations, argon2ParamsFromPolicy(h.Policy))
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	wrapped, err := keyhierarchy.Wrap(passwordOnlyKEK, dek)
	if err != nil {
		return err
	}

	copy(slot.PasswordSalt[:], newSalt)
	copy(slot.WrappedDEK[:], wrapped)
	clearTokenEnrollment(slot)

	m.log.Info().Str("username", username).Msg("token unenrolled")
	return nil
}

// TokenChallengeForUser returns username's enrolled slot challenge, for
// callers that need to drive a hardware token's challenge-response
// exchange themselves (the asynchronous two-touch password-change flow)
// before calling ChangePassword with the resulting response. The second
// return value is false if the user has no slot or no token enrolled.
func (m *Manager) TokenChallengeForUser(h *header.VaultHeader, username string) ([]byte, bool) {
	slot := findActiveSlotByUsername(h, username)
	if slot == nil || !slot.TokenEnrolled {
		return nil, false
	}
	return append([]byte(nil), slot.TokenChallenge[:]...), true
}

// RecordAccessError reports why sess is currently blocked from all record
// access, or nil if it isn't gated. A session that still must change its
// password, or that still needs to enroll a token the policy requires, is
// gated out of every record regardless of role or any per-record flag
// (spec §4.7 open step 5, §4.6).
func RecordAccessError(sess *Session) error {
	switch {
	case sess.MustChangePassword:
		return vaulterrors.New(vaulterrors.KindPasswordChangeRequired)
	case sess.RequiresTokenEnrollment:
		return vaulterrors.New(vaulterrors.KindTokenEnrollmentRequired)
	default:
		return nil
	}
}

// CanViewRecord reports whether sess may view a record, given its
// admin_only_viewable flag.
func CanViewRecord(sess *Session, adminOnlyViewable bool) bool {
	if RecordAccessError(sess) != nil {
		return false
	}
	return !adminOnlyViewable || sess.Role == header.RoleAdministrator
}

// CanDeleteRecord reports whether sess may delete a record, given its
// admin_only_deletable flag.
func CanDeleteRecord(sess *Session, adminOnlyDeletable bool) bool {
	if RecordAccessError(sess) != nil {
		return false
	}
	return !adminOnlyDeletable || sess.Role == header.RoleAdministrator
}

// MigrateUsernameHashIfPending performs the opportunistic username-hash
// migration mandated by spec §4.7's open step 3. The plaintext username is
// only available here, after a successful password-(and-token-)verified
// unwrap; when policy-level migration is active and slot is still
// MigrationPending, it is re-hashed under the policy's migration target
// algorithm and marked migrated. No-op otherwise.
func (m *Manager) MigrateUsernameHashIfPending(h *header.VaultHeader, slot *header.KeySlot, username string) {
	if !h.Policy.MigrationActive || slot.MigrationStatus != header.MigrationPending {
		return
	}
	slot.UsernameHash = cryptoprimitives.HashUsername(cryptoprimitives.UsernameHashAlgorithm(h.Policy.MigrationTargetUsernameHashAlgorithm), username, slot.UsernameSalt[:])
	slot.MigrationStatus = header.MigrationMigrated
	slot.MigratedAtUnix = m.clock()
	m.log.Info().Str("username", username).Msg("username hash migrated")
}

func findActiveSlotByUsername(h *header.VaultHeader, username string) *header.KeySlot {
	for _, slot := range h.Slots {
		if !slot.Active {
			continue
		}
		algo := h.Policy.UsernameHashAlgorithm
		if slot.MigrationStatus == header.MigrationMigrated {
			algo = h.Policy.MigrationTargetUsernameHashAlgorithm
		}
		hash := cryptoprimitives.HashUsername(cryptoprimitives.UsernameHashAlgorithm(algo), username, slot.UsernameSalt[:])
		if cryptoprimitives.ConstantTimeCompare(hash, slot.UsernameHash) {
			return slot
		}
	}
	return nil
}

func findFreeSlotIndex(h *header.VaultHeader) int {
	for i, slot := range h.Slots {
		if !slot.Active {
			return i
		}
	}
	if len(h.Slots) < header.MaxSlots {
		return len(h.Slots)
	}
	return -1
}

func countActiveAdmins(h *header.VaultHeader) int {
	n := 0
	for _, slot := range h.Slots {
		if slot.Active && slot.Role == header.RoleAdministrator {
			n++
		}
	}
	return n
}

func clearTokenEnrollment(slot *header.KeySlot) {
	slot.TokenEnrolled = false
	slot.TokenChallenge = [32]byte{}
	slot.TokenSerial = ""
	slot.TokenEnrolledAtUnix = 0
}

func appendHistoryFIFO(history []header.PasswordHistoryEntry, entry header.PasswordHistoryEntry, depth int) []header.PasswordHistoryEntry {
	if depth <= 0 {
		return history
	}
	history = append(history, entry)
	if len(history) > depth {
		history = history[len(history)-depth:]
	}
	return history
}

func argon2ParamsFromPolicy(p *header.SecurityPolicy) keyhierarchy.Argon2Params {
	return keyhierarchy.Argon2Params{
		MemoryKiB:   p.Argon2MemoryKiB,
		Time:        p.Argon2Time,
		Parallelism: p.Argon2Parallelism,
	}
}

func defaultClock() int64 {
	return time.Now().Unix()
}
