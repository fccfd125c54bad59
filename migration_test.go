// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package vaultengine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/keyhierarchy"
)

// writeV1Fixture hand-assembles a minimal, non-FEC, non-token V1 container
// file so migration can be exercised without a legacy writer.
func writeV1Fixture(t *testing.T, path, password string, payload []byte) {
	t.Helper()

	salt, err := keyhierarchy.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt error: %v", err)
	}
	iv, err := cryptoprimitives.GenerateGCMNonce()
	if err != nil {
		t.Fatalf("GenerateGCMNonce error: %v", err)
	}
	key, err := keyhierarchy.DeriveKEK(header.KEKDerivationPBKDF2, password, salt, 100_000, keyhierarchy.Argon2Params{})
	if err != nil {
		t.Fatalf("DeriveKEK error: %v", err)
	}
	ciphertext, err := cryptoprimitives.EncryptAESGCM(key, iv, payload, nil)
	if err != nil {
		t.Fatalf("EncryptAESGCM error: %v", err)
	}

	var fixed [v1FixedSize]byte
	binary.LittleEndian.PutUint32(fixed[0:4], magicKPTW)
	binary.LittleEndian.PutUint32(fixed[4:8], versionV1)
	binary.LittleEndian.PutUint32(fixed[8:12], 100_000)
	copy(fixed[12:12+v1SaltSize], salt)
	copy(fixed[12+v1SaltSize:12+v1SaltSize+v1IVSize], iv)
	fixed[v1FixedSize-1] = 0 // no FEC, no token

	container := append(append([]byte(nil), fixed[:]...), ciphertext...)
	if err := os.WriteFile(path, container, 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
}

func TestReadV1_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.kptw")
	writeV1Fixture(t, path, "legacy password", []byte("legacy secret"))

	payload, err := readV1(path, "legacy password", nil)
	if err != nil {
		t.Fatalf("readV1 error: %v", err)
	}
	if string(payload) != "legacy secret" {
		t.Fatalf("payload = %q, want %q", payload, "legacy secret")
	}
}

func TestConvertV1ToV2_MigratesPayloadAndBacksUpOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.kptw")
	writeV1Fixture(t, path, "legacy password", []byte("legacy secret"))

	e, err := New(nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := e.ConvertV1ToV2(path, "legacy password", nil, "root", "correct horse battery staple", CreatePolicy{}); err != nil {
		t.Fatalf("ConvertV1ToV2 error: %v", err)
	}
	defer e.Close()

	if _, err := os.Stat(path + ".v1.backup"); err != nil {
		t.Fatalf("expected a .v1.backup file: %v", err)
	}

	sess := e.Session()
	if sess == nil || sess.Username != "root" {
		t.Fatalf("expected an open session for root after migration, got %+v", sess)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	payload, err := e.OpenV2(path, "root", "correct horse battery staple", nil)
	if err != nil {
		t.Fatalf("OpenV2 after migration error: %v", err)
	}
	if string(payload) != "legacy secret" {
		t.Fatalf("migrated payload = %q, want %q", payload, "legacy secret")
	}
}

func TestConvertV1ToV2_WrongPasswordLeavesOriginalUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.kptw")
	writeV1Fixture(t, path, "legacy password", []byte("legacy secret"))
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}

	e, err := New(nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := e.ConvertV1ToV2(path, "wrong password", nil, "root", "correct horse battery staple", CreatePolicy{}); err == nil {
		t.Fatalf("expected ConvertV1ToV2 to fail with the wrong V1 password")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(after) != string(original) {
		t.Fatalf("original V1 file was modified despite a failed migration")
	}
}
