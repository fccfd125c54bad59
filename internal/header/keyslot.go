// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package header

import (
	"encoding/binary"

	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// Role distinguishes a slot permitted only to read/write the record store
// from one permitted to manage other users.
type Role uint8

const (
	RoleStandard Role = iota
	RoleAdministrator
)

// MigrationStatus tracks a slot's progress through a username-hash-algorithm
// migration (spec §4.6): a slot that is not Migrated is looked up under the
// policy's current algorithm; a Pending slot is re-hashed under the
// migration target and flips to Migrated the next time its owner
// authenticates successfully, and is looked up under the target from then on.
type MigrationStatus uint8

const (
	MigrationUnmigrated MigrationStatus = 0x00
	MigrationMigrated   MigrationStatus = 0x01
	MigrationPending    MigrationStatus = 0xFF
)

const (
	usernameHashMaxLen = 64
	usernameSaltSize   = 16
	passwordSaltSize   = 32
	wrappedDEKSize      = 40
	tokenChallengeSlotSize = 32
	historyEntrySize   = 88 // 8-byte timestamp + 32-byte salt + 48-byte PBKDF2-HMAC-SHA512 hash

	// maxHistoryEntries is the wire capacity (a single length byte): up to
	// 255 retained entries. The policy's PasswordHistoryDepth (checked
	// separately, range [0, 24]) governs how many of them are actually
	// compared against on a password change and how far the ring is
	// trimmed on the next write.
	maxHistoryEntries = 255

	// legacyAlgoMarkerLow and legacyAlgoMarkerHigh are the two
	// KEKDerivationAlgorithm wire values (KEKDerivationPBKDF2,
	// KEKDerivationArgon2id). Spec §9's open question #2 notes that slots
	// written before the algorithm byte existed have no way to signal its
	// absence: the decoder must guess, by checking whether the next byte
	// happens to equal one of these two markers, whether it is reading an
	// explicit algorithm byte or the leading byte of the username-hash
	// length that follows it. A legitimate length of 4 or 5 is
	// indistinguishable from a marker and will be misread — a known,
	// accepted fragility carried forward from the original format rather
	// than solved here.
	legacyAlgoMarkerLow  = byte(KEKDerivationPBKDF2)
	legacyAlgoMarkerHigh = byte(KEKDerivationArgon2id)
)

// PasswordHistoryEntry is one retired password's fingerprint, retained so a
// user cannot immediately reuse a recent password (spec §4.6).
type PasswordHistoryEntry struct {
	ChangedAtUnix int64
	Salt          [32]byte
	Hash          [48]byte // PBKDF2-HMAC-SHA512, 600000 iterations
}

// KeySlot is one user's entry in the vault's key-slot table: everything
// needed to authenticate that user and recover the shared DEK on success.
type KeySlot struct {
	Active                 bool
	KEKDerivationAlgorithm KEKDerivationAlgorithm
	UsernameHash           []byte // ≤ usernameHashMaxLen bytes
	UsernameSalt           [usernameSaltSize]byte
	PasswordSalt           [passwordSaltSize]byte
	WrappedDEK             [wrappedDEKSize]byte
	Role                   Role
	MustChangePassword     bool
	PasswordChangedAtUnix  int64
	LastLoginAtUnix        int64

	TokenEnrolled      bool
	TokenChallenge      [tokenChallengeSlotSize]byte
	TokenSerial         string // ≤ 255 bytes
	TokenEnrolledAtUnix int64

	EncryptedPIN []byte // ≤ 65535 bytes, length-prefixed, absent in older slots
	CredentialID []byte // ≤ 65535 bytes, length-prefixed, absent in older slots

	PasswordHistory []PasswordHistoryEntry

	MigrationStatus MigrationStatus
	MigratedAtUnix  int64
}

// Encode serializes s to the current bit-exact slot layout. Every trailing
// field group (token block, encrypted PIN, credential ID, password
// history, migration status) is always written in full; only the decoders
// ([DecodeKeySlot] and [DecodeVaultHeader]) tolerate their absence, for
// slots inherited from an older revision.
func (s *KeySlot) Encode() []byte {
	var out []byte

	out = append(out, boolToByte(s.Active))
	// Any algorithm other than Argon2id, including the unset zero value, is
	// written as PBKDF2 (the decoder's own default): a byte that is neither
	// marker would be read back as the username-hash length.
	algo := KEKDerivationPBKDF2
	if s.KEKDerivationAlgorithm == KEKDerivationArgon2id {
		algo = KEKDerivationArgon2id
	}
	out = append(out, byte(algo))

	usernameHashLen := len(s.UsernameHash)
	if usernameHashLen > usernameHashMaxLen {
		usernameHashLen = usernameHashMaxLen
	}
	out = append(out, byte(usernameHashLen))
	padded := make([]byte, usernameHashMaxLen)
	copy(padded, s.UsernameHash[:usernameHashLen])
	out = append(out, padded...)

	out = append(out, s.UsernameSalt[:]...)
	out = append(out, s.PasswordSalt[:]...)
	out = append(out, s.WrappedDEK[:]...)
	out = append(out, byte(s.Role))
	out = append(out, boolToByte(s.MustChangePassword))
	out = appendInt64(out, s.PasswordChangedAtUnix)
	out = appendInt64(out, s.LastLoginAtUnix)

	out = append(out, boolToByte(s.TokenEnrolled))
	out = append(out, s.TokenChallenge[:]...)
	out = append(out, byte(len(s.TokenSerial)))
	out = append(out, []byte(s.TokenSerial)...)
	out = appendInt64(out, s.TokenEnrolledAtUnix)

	out = appendLenPrefixed16(out, s.EncryptedPIN)
	out = appendLenPrefixed16(out, s.CredentialID)

	historyCount := len(s.PasswordHistory)
	if historyCount > maxHistoryEntries {
		historyCount = maxHistoryEntries
	}
	out = append(out, byte(historyCount))
	for i := 0; i < historyCount; i++ {
		e := s.PasswordHistory[i]
		out = appendInt64(out, e.ChangedAtUnix)
		out = append(out, e.Salt[:]...)
		out = append(out, e.Hash[:]...)
	}

	out = append(out, byte(s.MigrationStatus))
	out = appendInt64(out, s.MigratedAtUnix)

	return out
}

// slotReader walks a KeySlot byte block left to right, tracking the cursor
// and returning CorruptedFile on any attempt to read past the end.
type slotReader struct {
	b   []byte
	pos int
}

func (r *slotReader) remaining() int { return len(r.b) - r.pos }

func (r *slotReader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, vaulterrors.New(vaulterrors.KindCorrupted)
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *slotReader) peekByte() (byte, bool) {
	if r.remaining() < 1 {
		return 0, false
	}
	return r.b[r.pos], true
}

func (r *slotReader) takeInt64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return getInt64(b), nil
}

// slotGroup enumerates the optional trailing field groups a slot may or
// may not carry, in on-wire order. A whole slot table shares one group
// level — see [decodeKeySlotAtLevel] and its caller in header.go — since
// in practice an entire header is serialized by a single codec revision
// at a time; slots are never individually mixed.
type slotGroup int

const (
	groupCore slotGroup = iota
	groupToken
	groupEncryptedPIN
	groupCredentialID
	groupPasswordHistory
	groupMigrationStatus
	groupMigratedAt
)

// maxSlotGroup is the last (most complete) group level.
const maxSlotGroup = groupMigratedAt

// DecodeKeySlot parses a single, self-contained key-slot record (b holds
// exactly one slot's bytes, nothing more). It tolerates truncation at each
// of the documented legacy boundaries: a slot may end after the mandatory
// core fields, after the token block, after the encrypted-PIN field, after
// the credential-ID field, after the password-history block, or after the
// migration-status byte — anything shorter than the mandatory core, or a
// length prefix that overruns the remaining bytes, is CorruptedFile. Group
// levels are tried from the most complete down, and the first level that
// consumes b exactly is used.
//
// Decoding one slot out of a multi-slot table is different: there is no
// per-slot length prefix, so DecodeVaultHeader does not call this
// function directly — it uses [decodeKeySlotAtLevel] with a group level
// established once for the whole table.
func DecodeKeySlot(b []byte) (*KeySlot, error) {
	var err error = vaulterrors.New(vaulterrors.KindCorrupted)
	for level := maxSlotGroup; level >= groupCore; level-- {
		if len(b) < slotGroupMinSize(level) {
			continue
		}
		r := &slotReader{b: b}
		s, _, levelErr := decodeKeySlotAtLevel(r, level)
		if levelErr == nil && r.remaining() == 0 {
			return s, nil
		}
		if levelErr != nil {
			err = levelErr
		}
	}
	return nil, err
}

// slotGroupMinSize is a conservative lower bound on the bytes a slot at
// group level g occupies, used only to let DecodeKeySlot skip levels that b
// is too short for; decodeKeySlotAtLevel is the source of truth, and
// DecodeKeySlot moves on to the next lower level when it fails.
func slotGroupMinSize(g slotGroup) int {
	n := slotCoreMinSize
	if g >= groupToken {
		n += 1 + tokenChallengeSlotSize + 1 + 8
	}
	if g >= groupEncryptedPIN {
		n += 2
	}
	if g >= groupCredentialID {
		n += 2
	}
	if g >= groupPasswordHistory {
		n += 1
	}
	if g >= groupMigrationStatus {
		n += 1
	}
	if g >= groupMigratedAt {
		n += 8
	}
	return n
}

// decodeKeySlotAtLevel reads exactly one slot from r, reading optional
// trailing groups up to and including level unconditionally (rather than
// guessing from remaining bytes). It returns the decoded slot and the
// group level reached, which equals level whenever err is nil: running out
// of bytes partway is reported as CorruptedFile, and both callers respond
// by trying the next lower level.
func decodeKeySlotAtLevel(r *slotReader, level slotGroup) (*KeySlot, slotGroup, error) {
	s := &KeySlot{}

	activeByte, err := r.take(1)
	if err != nil {
		return nil, 0, err
	}
	s.Active = activeByte[0] != 0

	// Legacy heuristic (spec §9 open question #2): peek the next byte. If it
	// equals one of the two known KEKDerivationAlgorithm wire values, treat
	// it as an explicit algorithm byte written by a newer encoder; otherwise
	// assume this slot predates that field and default to PBKDF2, leaving
	// the byte in place to be read as the username-hash length below.
	s.KEKDerivationAlgorithm = KEKDerivationPBKDF2
	if peek, ok := r.peekByte(); ok && (peek == legacyAlgoMarkerLow || peek == legacyAlgoMarkerHigh) {
		algoByte, _ := r.take(1)
		s.KEKDerivationAlgorithm = KEKDerivationAlgorithm(algoByte[0])
	}

	usernameHashLenByte, err := r.take(1)
	if err != nil {
		return nil, 0, err
	}
	usernameHashLen := int(usernameHashLenByte[0])
	if usernameHashLen > usernameHashMaxLen {
		return nil, 0, vaulterrors.New(vaulterrors.KindInvalidData)
	}
	usernameHashBlock, err := r.take(usernameHashMaxLen)
	if err != nil {
		return nil, 0, err
	}
	s.UsernameHash = append([]byte(nil), usernameHashBlock[:usernameHashLen]...)

	usernameSalt, err := r.take(usernameSaltSize)
	if err != nil {
		return nil, 0, err
	}
	copy(s.UsernameSalt[:], usernameSalt)

	passwordSalt, err := r.take(passwordSaltSize)
	if err != nil {
		return nil, 0, err
	}
	copy(s.PasswordSalt[:], passwordSalt)

	wrappedDEK, err := r.take(wrappedDEKSize)
	if err != nil {
		return nil, 0, err
	}
	copy(s.WrappedDEK[:], wrappedDEK)

	roleByte, err := r.take(1)
	if err != nil {
		return nil, 0, err
	}
	if roleByte[0] > byte(RoleAdministrator) {
		return nil, 0, vaulterrors.New(vaulterrors.KindInvalidData)
	}
	s.Role = Role(roleByte[0])

	mustChangeByte, err := r.take(1)
	if err != nil {
		return nil, 0, err
	}
	s.MustChangePassword = mustChangeByte[0] != 0

	if s.PasswordChangedAtUnix, err = r.takeInt64(); err != nil {
		return nil, 0, err
	}
	if s.LastLoginAtUnix, err = r.takeInt64(); err != nil {
		return nil, 0, err
	}

	if level < groupToken {
		return s, groupCore, nil
	}

	tokenEnrolledByte, err := r.take(1)
	if err != nil {
		return nil, 0, err
	}
	s.TokenEnrolled = tokenEnrolledByte[0] != 0

	tokenChallenge, err := r.take(tokenChallengeSlotSize)
	if err != nil {
		return nil, 0, err
	}
	copy(s.TokenChallenge[:], tokenChallenge)

	tokenSerialLenByte, err := r.take(1)
	if err != nil {
		return nil, 0, err
	}
	tokenSerial, err := r.take(int(tokenSerialLenByte[0]))
	if err != nil {
		return nil, 0, err
	}
	s.TokenSerial = string(tokenSerial)

	if s.TokenEnrolledAtUnix, err = r.takeInt64(); err != nil {
		return nil, 0, err
	}

	if level < groupEncryptedPIN {
		return s, groupToken, nil
	}
	if s.EncryptedPIN, err = takeLenPrefixed16(r); err != nil {
		return nil, 0, err
	}

	if level < groupCredentialID {
		return s, groupEncryptedPIN, nil
	}
	if s.CredentialID, err = takeLenPrefixed16(r); err != nil {
		return nil, 0, err
	}

	if level < groupPasswordHistory {
		return s, groupCredentialID, nil
	}
	historyCountByte, err := r.take(1)
	if err != nil {
		return nil, 0, err
	}
	historyCount := int(historyCountByte[0])
	if historyCount > maxHistoryEntries {
		return nil, 0, vaulterrors.New(vaulterrors.KindInvalidData)
	}
	s.PasswordHistory = make([]PasswordHistoryEntry, historyCount)
	for i := 0; i < historyCount; i++ {
		var e PasswordHistoryEntry
		if e.ChangedAtUnix, err = r.takeInt64(); err != nil {
			return nil, 0, err
		}
		salt, err := r.take(32)
		if err != nil {
			return nil, 0, err
		}
		copy(e.Salt[:], salt)
		hash, err := r.take(48)
		if err != nil {
			return nil, 0, err
		}
		copy(e.Hash[:], hash)
		s.PasswordHistory[i] = e
	}

	if level < groupMigrationStatus {
		s.MigrationStatus = MigrationUnmigrated
		return s, groupPasswordHistory, nil
	}
	migrationStatusByte, err := r.take(1)
	if err != nil {
		return nil, 0, err
	}
	s.MigrationStatus = MigrationStatus(migrationStatusByte[0])

	if level < groupMigratedAt {
		return s, groupMigrationStatus, nil
	}
	if s.MigratedAtUnix, err = r.takeInt64(); err != nil {
		return nil, 0, err
	}

	return s, groupMigratedAt, nil
}

func appendInt64(dst []byte, v int64) []byte {
	var b [8]byte
	putInt64(b[:], v)
	return append(dst, b[:]...)
}

func appendLenPrefixed16(dst []byte, v []byte) []byte {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(v)))
	dst = append(dst, lenBytes[:]...)
	return append(dst, v...)
}

func takeLenPrefixed16(r *slotReader) ([]byte, error) {
	lenBytes, err := r.take(2)
	if err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(lenBytes))
	v, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}
