package session

import (
	"bytes"
	"testing"

	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/keyhierarchy"
)

func testPolicy() *header.SecurityPolicy {
	return &header.SecurityPolicy{
		RequireToken:           false,
		MinPasswordLength:      8,
		KDFIterations:          100_000,
		PasswordHistoryDepth:   3,
		KEKDerivationAlgorithm: header.KEKDerivationPBKDF2,
		TokenAlgorithm:         header.TokenAlgorithmSHA256,
		CreatedAtUnix:          1_700_000_000,
		UsernameHashAlgorithm:  header.UsernameHashSHA3_256,
		Argon2MemoryKiB:        header.DefaultArgon2MemoryKiB,
		Argon2Time:             header.DefaultArgon2Time,
		Argon2Parallelism:      header.DefaultArgon2Parallelism,
	}
}

func newAdminHeader(t *testing.T, username, password string) (*header.VaultHeader, []byte) {
	t.Helper()
	policy := testPolicy()
	dek, err := keyhierarchy.GenerateDEK()
	if err != nil {
		t.Fatalf("GenerateDEK: %v", err)
	}
	passwordSalt, err := keyhierarchy.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	usernameSalt, err := cryptoprimitives.RandomBytes(usernameSaltSize)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	kek, err := keyhierarchy.DeriveKEK(policy.KEKDerivationAlgorithm, password, passwordSalt, policy.KDFIterations, keyhierarchy.Argon2Params{})
	if err != nil {
		t.Fatalf("DeriveKEK: %v", err)
	}
	wrapped, err := keyhierarchy.Wrap(kek, dek)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	slot := &header.KeySlot{
		Active:                 true,
		KEKDerivationAlgorithm: policy.KEKDerivationAlgorithm,
		UsernameHash:           cryptoprimitives.HashUsername(cryptoprimitives.UsernameHashAlgorithm(policy.UsernameHashAlgorithm), username, usernameSalt),
		Role:                   header.RoleAdministrator,
		MustChangePassword:     false,
	}
	copy(slot.UsernameSalt[:], usernameSalt)
	copy(slot.PasswordSalt[:], passwordSalt)
	copy(slot.WrappedDEK[:], wrapped)

	h := &header.VaultHeader{Policy: policy, Slots: []*header.KeySlot{slot}}
	return h, dek
}

func TestAuthenticate_CorrectPasswordSucceeds(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)

	_, sess, gotDEK, err := m.Authenticate(h, "admin", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	if sess.Role != header.RoleAdministrator {
		t.Fatalf("expected administrator role")
	}
	if !bytes.Equal(gotDEK, dek) {
		t.Fatalf("dek mismatch")
	}
}

func TestAuthenticate_WrongPasswordFails(t *testing.T) {
	h, _ := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)

	_, _, _, err := m.Authenticate(h, "admin", "wrong-password", nil)
	if err == nil {
		t.Fatalf("expected error for wrong password")
	}
}

func TestAuthenticate_UnknownUserFails(t *testing.T) {
	h, _ := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)

	_, _, _, err := m.Authenticate(h, "nobody", "correct-horse", nil)
	if err == nil {
		t.Fatalf("expected error for unknown user")
	}
}

func TestAddUser_RequiresAdministrator(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	standard := &Session{Username: "bob", Role: header.RoleStandard}

	if _, err := m.AddUser(h, standard, dek, "carol", "password1", header.RoleStandard); err == nil {
		t.Fatalf("expected permission error for non-admin caller")
	}
}

func TestAddUser_ThenAuthenticateNewUser(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	idx, err := m.AddUser(h, admin, dek, "bob", "bobs-password", header.RoleStandard)
	if err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected new slot at index 1, got %d", idx)
	}

	_, sess, gotDEK, err := m.Authenticate(h, "bob", "bobs-password", nil)
	if err != nil {
		t.Fatalf("Authenticate new user error: %v", err)
	}
	if !sess.MustChangePassword {
		t.Fatalf("expected must_change_password=true for newly added user")
	}
	if !bytes.Equal(gotDEK, dek) {
		t.Fatalf("dek mismatch for new user")
	}
}

func TestAddUser_DuplicateUsernameRejected(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	if _, err := m.AddUser(h, admin, dek, "admin", "whatever1", header.RoleStandard); err == nil {
		t.Fatalf("expected duplicate-username error")
	}
}

func TestRemoveUser_RefusesSelfRemoval(t *testing.T) {
	h, _ := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	if err := m.RemoveUser(h, admin, "admin"); err == nil {
		t.Fatalf("expected self-removal error")
	}
}

func TestRemoveUser_RefusesLastAdministrator(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	if _, err := m.AddUser(h, admin, dek, "bob", "bobs-password", header.RoleStandard); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}

	bobAsCaller := &Session{Username: "bob", Role: header.RoleStandard}
	// bob is not admin, so this should fail on permission, not last-admin.
	if err := m.RemoveUser(h, bobAsCaller, "admin"); err == nil {
		t.Fatalf("expected permission error")
	}

	if err := m.RemoveUser(h, admin, "admin"); err == nil {
		t.Fatalf("expected self-removal error for admin removing itself even as sole admin")
	}
}

func TestRemoveUser_DeactivatesWithoutCompacting(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	if _, err := m.AddUser(h, admin, dek, "bob", "bobs-password", header.RoleStandard); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
	if err := m.RemoveUser(h, admin, "bob"); err != nil {
		t.Fatalf("RemoveUser error: %v", err)
	}
	if len(h.Slots) != 2 {
		t.Fatalf("expected slot to remain in slice, got %d slots", len(h.Slots))
	}
	if h.Slots[1].Active {
		t.Fatalf("expected removed slot to be inactive")
	}

	if _, _, _, err := m.Authenticate(h, "bob", "bobs-password", nil); err == nil {
		t.Fatalf("expected authentication to fail for removed user")
	}
}

func TestChangePassword_Works(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	if err := m.ChangePassword(h, admin, dek, "admin", "correct-horse", "new-password1", nil); err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}

	if _, _, _, err := m.Authenticate(h, "admin", "correct-horse", nil); err == nil {
		t.Fatalf("expected old password to fail after change")
	}
	_, _, gotDEK, err := m.Authenticate(h, "admin", "new-password1", nil)
	if err != nil {
		t.Fatalf("Authenticate with new password: %v", err)
	}
	if !bytes.Equal(gotDEK, dek) {
		t.Fatalf("dek mismatch after password change")
	}
}

func TestChangePassword_RejectsHistoryReuse(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	if err := m.ChangePassword(h, admin, dek, "admin", "correct-horse", "second-password", nil); err != nil {
		t.Fatalf("first ChangePassword error: %v", err)
	}
	if err := m.ChangePassword(h, admin, dek, "admin", "second-password", "correct-horse", nil); err == nil {
		t.Fatalf("expected history-reuse rejection for previously used password")
	}
}

func TestChangePassword_WrongOldPasswordFails(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	if err := m.ChangePassword(h, admin, dek, "admin", "not-the-password", "new-password1", nil); err == nil {
		t.Fatalf("expected authentication failure for wrong old password")
	}
}

func TestAdminResetPassword_ForcesMustChangeAndClearsHistory(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	if _, err := m.AddUser(h, admin, dek, "bob", "bobs-password", header.RoleStandard); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
	if err := m.AdminResetPassword(h, admin, dek, "bob", "reset-password1"); err != nil {
		t.Fatalf("AdminResetPassword error: %v", err)
	}

	_, sess, _, err := m.Authenticate(h, "bob", "reset-password1", nil)
	if err != nil {
		t.Fatalf("Authenticate with reset password: %v", err)
	}
	if !sess.MustChangePassword {
		t.Fatalf("expected must_change_password=true after admin reset")
	}

	slot := findActiveSlotByUsername(h, "bob")
	if len(slot.PasswordHistory) != 0 {
		t.Fatalf("expected password history cleared after admin reset")
	}
}

func TestEnrollAndUnenrollToken(t *testing.T) {
	h, dek := newAdminHeader(t, "admin", "correct-horse")
	m := New(nil, nil)
	admin := &Session{Username: "admin", Role: header.RoleAdministrator}

	challenge := bytes.Repeat([]byte{0x11}, 32)
	response := []byte("fixed-device-response")
	responseFn := func(c []byte) ([]byte, error) { return response, nil }

	if err := m.EnrollToken(h, admin, dek, "admin", "correct-horse", challenge, "YK-0001", responseFn); err != nil {
		t.Fatalf("EnrollToken error: %v", err)
	}

	if _, _, _, err := m.Authenticate(h, "admin", "correct-horse", nil); err == nil {
		t.Fatalf("expected authentication without token response to fail once enrolled")
	}
	_, _, gotDEK, err := m.Authenticate(h, "admin", "correct-horse", response)
	if err != nil {
		t.Fatalf("Authenticate with token response: %v", err)
	}
	if !bytes.Equal(gotDEK, dek) {
		t.Fatalf("dek mismatch with token response")
	}

	if err := m.UnenrollToken(h, admin, dek, "admin", "correct-horse", response); err != nil {
		t.Fatalf("UnenrollToken error: %v", err)
	}
	_, _, gotDEK2, err := m.Authenticate(h, "admin", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Authenticate after unenroll: %v", err)
	}
	if !bytes.Equal(gotDEK2, dek) {
		t.Fatalf("dek mismatch after unenroll")
	}
}

func TestAccessGates(t *testing.T) {
	admin := &Session{Role: header.RoleAdministrator}
	standard := &Session{Role: header.RoleStandard}

	if !CanViewRecord(admin, true) {
		t.Fatalf("admin should view admin-only-viewable records")
	}
	if CanViewRecord(standard, true) {
		t.Fatalf("standard user should not view admin-only-viewable records")
	}
	if !CanViewRecord(standard, false) {
		t.Fatalf("standard user should view normal records")
	}

	if !CanDeleteRecord(admin, true) {
		t.Fatalf("admin should delete admin-only-deletable records")
	}
	if CanDeleteRecord(standard, true) {
		t.Fatalf("standard user should not delete admin-only-deletable records")
	}
}
