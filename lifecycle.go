// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package vaultengine

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rkhiriev/vaultengine/internal/backup"
	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/keyhierarchy"
	"github.com/rkhiriev/vaultengine/internal/securebuffer"
	"github.com/rkhiriev/vaultengine/internal/session"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// usernameSaltSize matches header.KeySlot's UsernameSalt field width.
const usernameSaltSize = 16

// CreatePolicy carries the caller's choices for a newly created vault. A
// zero KDFIterations, MinPasswordLength, PasswordHistoryDepth or
// KEKDerivationAlgorithm falls back to the engine's configuration, and
// RequireToken is also set when the configuration requires a token. Zero
// Argon2 parameters fall back to the header package defaults rather than
// the configuration. TokenAlgorithm and UsernameHashAlgorithm are used as
// given, so zero means SHA-256 and plain.
type CreatePolicy struct {
	RequireToken           bool
	MinPasswordLength      int
	KDFIterations          uint32
	PasswordHistoryDepth   int
	KEKDerivationAlgorithm header.KEKDerivationAlgorithm
	TokenAlgorithm         header.TokenAlgorithm
	UsernameHashAlgorithm  header.UsernameHashAlgorithm
	Argon2MemoryKiB        uint32
	Argon2Time             uint32
	Argon2Parallelism      uint8
}

// resolvePolicy merges p over the engine's configured defaults.
func (e *Engine) resolvePolicy(p CreatePolicy) *header.SecurityPolicy {
	iterations := p.KDFIterations
	if iterations == 0 {
		iterations = e.cfg.KDF.Iterations
	}
	minLen := p.MinPasswordLength
	if minLen == 0 {
		minLen = e.cfg.Policy.MinPasswordLength
	}
	historyDepth := p.PasswordHistoryDepth
	if historyDepth == 0 {
		historyDepth = e.cfg.Policy.PasswordHistoryDepth
	}
	kekAlgo := p.KEKDerivationAlgorithm
	if kekAlgo == 0 {
		kekAlgo = header.KEKDerivationPBKDF2
		if e.cfg.KDF.Algorithm == "argon2id" {
			kekAlgo = header.KEKDerivationArgon2id
		}
	}

	argonMem := p.Argon2MemoryKiB
	if argonMem == 0 {
		argonMem = header.DefaultArgon2MemoryKiB
	}
	argonTime := p.Argon2Time
	if argonTime == 0 {
		argonTime = header.DefaultArgon2Time
	}
	argonPar := p.Argon2Parallelism
	if argonPar == 0 {
		argonPar = header.DefaultArgon2Parallelism
	}

	return &header.SecurityPolicy{
		RequireToken:           p.RequireToken || e.cfg.Policy.RequireToken,
		MinPasswordLength:      uint8(minLen),
		KDFIterations:          iterations,
		PasswordHistoryDepth:   uint8(historyDepth),
		KEKDerivationAlgorithm: kekAlgo,
		TokenAlgorithm:         p.TokenAlgorithm,
		CreatedAtUnix:          time.Now().Unix(),
		UsernameHashAlgorithm:  p.UsernameHashAlgorithm,
		Argon2MemoryKiB:        argonMem,
		Argon2Time:             argonTime,
		Argon2Parallelism:      argonPar,
	}
}

// CreateV2 creates a new V2 vault at path with a single administrator
// slot. Per spec §4.7: generates the DEK and admin salt, derives the admin
// KEK, wraps the DEK into the admin slot, serializes policy and slots,
// FEC-encodes the header at max(configured redundancy, 20%), concatenates
// with an encrypted empty payload, and writes the result atomically with
// owner-only permissions. No hardware token is enrolled here: when the
// resolved policy requires one, the new session is flagged
// RequiresTokenEnrollment, which gates record access.
func (e *Engine) CreateV2(path, adminUsername, adminPassword string, policy CreatePolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireClosed(); err != nil {
		return err
	}
	return e.createV2WithPayload(path, adminUsername, adminPassword, policy, nil)
}

// createV2WithPayload is CreateV2's body, parameterized over the initial
// record payload so ConvertV1ToV2 can seed a freshly created V2 vault with
// a V1 vault's recovered plaintext instead of an empty one. Callers must
// hold e.mu and have already verified the engine is closed.
func (e *Engine) createV2WithPayload(path, adminUsername, adminPassword string, policy CreatePolicy, payload []byte) error {
	if adminUsername == "" {
		return vaulterrors.New(vaulterrors.KindInvalidUsername)
	}

	secPolicy := e.resolvePolicy(policy)
	if len(adminPassword) < int(secPolicy.MinPasswordLength) {
		return vaulterrors.New(vaulterrors.KindWeakPassword)
	}

	dek, err := keyhierarchy.GenerateDEK()
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	usernameSalt, err := cryptoprimitives.RandomBytes(usernameSaltSize)
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	passwordSalt, err := keyhierarchy.GenerateSalt()
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}

	kek, err := keyhierarchy.DeriveKEK(secPolicy.KEKDerivationAlgorithm, adminPassword, passwordSalt, secPolicy.KDFIterations, argon2ParamsFromPolicy(secPolicy))
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	wrapped, err := keyhierarchy.Wrap(kek, dek)
	if err != nil {
		return err
	}

	slot := &header.KeySlot{
		Active:                 true,
		KEKDerivationAlgorithm: secPolicy.KEKDerivationAlgorithm,
		UsernameHash:           cryptoprimitives.HashUsername(cryptoprimitives.UsernameHashAlgorithm(secPolicy.UsernameHashAlgorithm), adminUsername, usernameSalt),
		Role:                   header.RoleAdministrator,
		MustChangePassword:     false,
		PasswordChangedAtUnix:  secPolicy.CreatedAtUnix,
	}
	copy(slot.UsernameSalt[:], usernameSalt)
	copy(slot.PasswordSalt[:], passwordSalt)
	copy(slot.WrappedDEK[:], wrapped)

	h := &header.VaultHeader{Policy: secPolicy, Slots: []*header.KeySlot{slot}}

	if err := e.writeContainer(path, h, dek, payload); err != nil {
		return err
	}

	e.openSucceeded(path, h, dek, &session.Session{
		Username:                adminUsername,
		Role:                    header.RoleAdministrator,
		MustChangePassword:      false,
		RequiresTokenEnrollment: secPolicy.RequireToken,
	})

	e.log.Info().Str("path", path).Str("username", adminUsername).Msg("vault created")
	return nil
}

// OpenV2 opens an existing V2 vault at path, authenticating username
// against it, and returns the decrypted opaque record payload. tokenResponse
// is ignored unless the user's slot has a token enrolled.
func (e *Engine) OpenV2(path, username, password string, tokenResponse []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireClosed(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vaulterrors.New(vaulterrors.KindNotFound)
		}
		return nil, vaulterrors.Wrap(vaulterrors.KindOpenFailed, err)
	}

	env, err := decodeV2(raw)
	if err != nil {
		return nil, err
	}

	slot, sess, dek, err := e.sessionMgr.Authenticate(env.Header, username, password, tokenResponse)
	if err != nil {
		return nil, err
	}

	plaintext, err := cryptoprimitives.DecryptAESGCM(dek, env.DataIV, env.Ciphertext, nil)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.KindAuthenticationFailed)
	}

	slot.LastLoginAtUnix = time.Now().Unix()
	if env.Header.Policy.RequireToken && !slot.TokenEnrolled {
		sess.RequiresTokenEnrollment = true
	}
	e.sessionMgr.MigrateUsernameHashIfPending(env.Header, slot, username)

	e.openSucceeded(path, env.Header, dek, sess)
	e.log.Info().Str("path", path).Str("username", username).Msg("vault opened")

	// Open succeeds and the session is established either way; only the
	// record payload itself is gated (spec §4.7 open step 5).
	if err := session.RecordAccessError(sess); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// openSucceeded installs state shared by CreateV2 and OpenV2 once a DEK
// has been recovered. Callers must hold e.mu.
func (e *Engine) openSucceeded(path string, h *header.VaultHeader, dek []byte, sess *session.Session) {
	// securebuffer.New only fails on a src/n length mismatch, which cannot
	// happen here since the buffer is sized from dek itself.
	buf, _ := securebuffer.New(len(dek), dek, e.cfg.Provider.PageLockEnabled, e.log)
	cryptoprimitives.Zeroize(dek)

	e.path = path
	e.header = h
	e.dek = buf
	e.session = sess
	e.open = true
	e.backupMgr = backup.New(path, e.cfg.Backup.MaxBackups, e.log.GetChildLogger())
}

// Save persists the current in-memory header and record payload to the
// vault's file, atomically: write to a temp sibling, fsync the file,
// rename over the original, fsync the containing directory. snapshot, when
// true (explicit user-initiated saves only, never auto-saves), captures
// the previous file to a timestamped backup first and prunes older
// backups beyond the configured retention.
func (e *Engine) Save(recordPayload []byte, snapshot bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOpen(); err != nil {
		return err
	}

	if snapshot {
		if previous, err := os.ReadFile(e.path); err == nil {
			if _, snapErr := e.backupMgr.Snapshot(time.Now().Unix(), previous); snapErr != nil {
				e.log.Warn().Err(snapErr).Msg("backup snapshot failed, continuing with save")
			}
		}
	}

	return e.writeContainer(e.path, e.header, e.dek.Bytes(), recordPayload)
}

// writeContainer serializes h and encrypts recordPayload under dek, then
// writes the resulting V2 container to path atomically. Callers must hold
// e.mu.
func (e *Engine) writeContainer(path string, h *header.VaultHeader, dek []byte, recordPayload []byte) error {
	dataSalt, err := cryptoprimitives.RandomBytes(dataSaltSize)
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}
	dataIV, err := cryptoprimitives.GenerateGCMNonce()
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindKeyDerivationFailed, err)
	}

	ciphertext, err := cryptoprimitives.EncryptAESGCM(dek, dataIV, recordPayload, nil)
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindEncryptionFailed, err)
	}

	container, err := encodeV2(h, h.Policy.KDFIterations, e.cfg.FEC.HeaderRedundancyPercent, dataSalt, dataIV, ciphertext, e.cfg.FEC.PayloadRedundancyEnabled, e.cfg.FEC.PayloadRedundancyPercent)
	if err != nil {
		return err
	}

	return atomicWriteFile(path, container, 0o600)
}

// atomicWriteFile writes data to a temp sibling of path, fsyncs it,
// renames it over path, and fsyncs the containing directory — so a
// failure at any point before the rename leaves the original file (if
// any) untouched, and a crash after rename but before the directory fsync
// is covered by the directory fsync completing before this call returns
// successfully.
func atomicWriteFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
	}

	if dirHandle, err := os.Open(dir); err == nil {
		dirHandle.Sync()
		dirHandle.Close()
	}

	return nil
}

// Close zeroizes the DEK held in the SecureBuffer and every slot's token
// challenge in the in-memory header, drops the header and the session, and
// resets the engine to its closed state. Idempotent: closing an
// already-closed engine is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return nil
	}

	e.dek.Release()
	e.dek = nil
	for _, slot := range e.header.Slots {
		cryptoprimitives.Zeroize(slot.TokenChallenge[:])
	}
	e.header = nil
	e.session = nil
	e.path = ""
	e.backupMgr = nil
	e.open = false

	e.log.Info().Msg("vault closed")
	return nil
}

func argon2ParamsFromPolicy(p *header.SecurityPolicy) keyhierarchy.Argon2Params {
	return keyhierarchy.Argon2Params{
		MemoryKiB:   p.Argon2MemoryKiB,
		Time:        p.Argon2Time,
		Parallelism: p.Argon2Parallelism,
	}
}
