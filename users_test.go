// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package vaultengine

import (
	"errors"
	"testing"

	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

func TestUpdatePolicy_RejectsKDFIterationChange(t *testing.T) {
	e, path := newTestEngine(t)
	if err := e.CreateV2(path, "root", "correct horse battery staple", CreatePolicy{}); err != nil {
		t.Fatalf("CreateV2 error: %v", err)
	}
	originalIterations := e.header.Policy.KDFIterations

	err := e.UpdatePolicy(CreatePolicy{KDFIterations: originalIterations + 1})
	if !errors.Is(err, vaulterrors.ErrImmutablePolicyField) {
		t.Fatalf("expected ErrImmutablePolicyField, got %v", err)
	}
	if e.header.Policy.KDFIterations != originalIterations {
		t.Fatalf("KDFIterations mutated despite rejected update: got %d, want %d", e.header.Policy.KDFIterations, originalIterations)
	}
}

func TestUpdatePolicy_RejectsUsernameHashAlgorithmChange(t *testing.T) {
	e, path := newTestEngine(t)
	if err := e.CreateV2(path, "root", "correct horse battery staple", CreatePolicy{}); err != nil {
		t.Fatalf("CreateV2 error: %v", err)
	}

	err := e.UpdatePolicy(CreatePolicy{UsernameHashAlgorithm: header.UsernameHashSHA3_256})
	if !errors.Is(err, vaulterrors.ErrImmutablePolicyField) {
		t.Fatalf("expected ErrImmutablePolicyField, got %v", err)
	}
}

func TestUpdatePolicy_UpdatesMutableFieldsInPlace(t *testing.T) {
	e, path := newTestEngine(t)
	if err := e.CreateV2(path, "root", "correct horse battery staple", CreatePolicy{}); err != nil {
		t.Fatalf("CreateV2 error: %v", err)
	}

	if err := e.UpdatePolicy(CreatePolicy{RequireToken: true, MinPasswordLength: 16}); err != nil {
		t.Fatalf("UpdatePolicy error: %v", err)
	}
	if !e.header.Policy.RequireToken {
		t.Fatalf("expected RequireToken to be updated to true")
	}
	if e.header.Policy.MinPasswordLength != 16 {
		t.Fatalf("MinPasswordLength = %d, want 16", e.header.Policy.MinPasswordLength)
	}
}

func TestUpdatePolicy_RequiresAdministrator(t *testing.T) {
	e, path := newTestEngine(t)
	if err := e.CreateV2(path, "root", "correct horse battery staple", CreatePolicy{}); err != nil {
		t.Fatalf("CreateV2 error: %v", err)
	}
	if _, err := e.AddUser("alice", "another strong password", header.RoleStandard); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
	if err := e.ChangePassword("alice", "another strong password", "a brand new strong password", nil); err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}
	if err := e.Save(nil, false); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := e.OpenV2(path, "alice", "a brand new strong password", nil); err != nil {
		t.Fatalf("OpenV2 as alice error: %v", err)
	}

	if err := e.UpdatePolicy(CreatePolicy{MinPasswordLength: 20}); !errors.Is(err, vaulterrors.ErrCallerPermissionDenied) {
		t.Fatalf("expected ErrCallerPermissionDenied for a standard user, got %v", err)
	}
}
