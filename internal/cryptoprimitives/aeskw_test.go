package cryptoprimitives

import (
	"bytes"
	"testing"
)

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	kek := bytes.Repeat([]byte{0x2A}, 32)
	dek := bytes.Repeat([]byte{0xDD}, 32)

	wrapped, err := WrapKey(kek, dek)
	if err != nil {
		t.Fatalf("WrapKey error: %v", err)
	}
	if len(wrapped) != 40 {
		t.Fatalf("wrapped length = %d, want 40", len(wrapped))
	}

	got, err := UnwrapKey(kek, wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey error: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatalf("unwrap mismatch")
	}
}

func TestWrapKey_Deterministic(t *testing.T) {
	kek := bytes.Repeat([]byte{0x11}, 32)
	dek := bytes.Repeat([]byte{0x22}, 32)

	w1, err := WrapKey(kek, dek)
	if err != nil {
		t.Fatalf("WrapKey error: %v", err)
	}
	w2, err := WrapKey(kek, dek)
	if err != nil {
		t.Fatalf("WrapKey error: %v", err)
	}
	if !bytes.Equal(w1, w2) {
		t.Fatalf("expected deterministic wrap output for identical (kek, dek)")
	}
}

func TestUnwrapKey_WrongKEKFails(t *testing.T) {
	kek := bytes.Repeat([]byte{0x2A}, 32)
	wrongKEK := bytes.Repeat([]byte{0x2B}, 32)
	dek := bytes.Repeat([]byte{0xDD}, 32)

	wrapped, err := WrapKey(kek, dek)
	if err != nil {
		t.Fatalf("WrapKey error: %v", err)
	}

	if _, err := UnwrapKey(wrongKEK, wrapped); err == nil {
		t.Fatalf("expected UnwrapKey to fail with wrong KEK")
	}
}

func TestUnwrapKey_TamperedWrappedFails(t *testing.T) {
	kek := bytes.Repeat([]byte{0x2A}, 32)
	dek := bytes.Repeat([]byte{0xDD}, 32)

	wrapped, err := WrapKey(kek, dek)
	if err != nil {
		t.Fatalf("WrapKey error: %v", err)
	}

	tampered := append([]byte(nil), wrapped...)
	tampered[10] ^= 0xFF

	if _, err := UnwrapKey(kek, tampered); err == nil {
		t.Fatalf("expected UnwrapKey to fail on tampered input")
	}
}

func TestAESGCM_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x44}, 32)
	iv, err := GenerateGCMNonce()
	if err != nil {
		t.Fatalf("GenerateGCMNonce error: %v", err)
	}
	plaintext := []byte("opaque record blob")

	ciphertext, err := EncryptAESGCM(key, iv, plaintext, nil)
	if err != nil {
		t.Fatalf("EncryptAESGCM error: %v", err)
	}

	got, err := DecryptAESGCM(key, iv, ciphertext, nil)
	if err != nil {
		t.Fatalf("DecryptAESGCM error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted plaintext mismatch")
	}
}

func TestAESGCM_TamperDetected(t *testing.T) {
	key := bytes.Repeat([]byte{0x44}, 32)
	iv, _ := GenerateGCMNonce()
	ciphertext, err := EncryptAESGCM(key, iv, []byte("data"), nil)
	if err != nil {
		t.Fatalf("EncryptAESGCM error: %v", err)
	}

	ciphertext[0] ^= 0xFF
	if _, err := DecryptAESGCM(key, iv, ciphertext, nil); err == nil {
		t.Fatalf("expected tamper detection to fail decryption")
	}
}

func TestDerivePBKDF2SHA256_Deterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0x01}, 32)

	k1 := DerivePBKDF2SHA256("correct horse battery staple", salt, 100_000)
	k2 := DerivePBKDF2SHA256("correct horse battery staple", salt, 100_000)

	if len(k1) != 32 {
		t.Fatalf("key length = %d, want 32", len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Fatalf("expected deterministic KEK for same password+salt+iterations")
	}
}

func TestDerivePBKDF2SHA256_DifferentSaltDiffers(t *testing.T) {
	salt1 := bytes.Repeat([]byte{0x01}, 32)
	salt2 := bytes.Repeat([]byte{0x02}, 32)

	k1 := DerivePBKDF2SHA256("same password", salt1, 100_000)
	k2 := DerivePBKDF2SHA256("same password", salt2, 100_000)

	if bytes.Equal(k1, k2) {
		t.Fatalf("expected different KEKs for different salts")
	}
}
