// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package cryptoprimitives

import (
	"crypto/aes"
	"fmt"
)

// kwDefaultIV is the standard RFC 3394 / NIST SP 800-38F initial value.
var kwDefaultIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// WrapKey implements AES-256-KW (RFC 3394). kek must be 32 bytes; dek must
// be exactly 32 bytes, the only plaintext size this engine ever wraps. The
// output is 40 bytes, the first 8 of which are a[:] after the wrap
// rounds — the algorithm's built-in integrity check value, not a
// separately-appended tag.
func WrapKey(kek, dek []byte) ([]byte, error) {
	if len(kek) != 32 {
		return nil, fmt.Errorf("cryptoprimitives: kek must be 32 bytes, got %d", len(kek))
	}
	if len(dek) != 32 {
		return nil, fmt.Errorf("cryptoprimitives: dek must be 32 bytes, got %d", len(dek))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("cryptoprimitives: new cipher: %w", err)
	}

	n := len(dek) / 8
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], dek[i*8:(i+1)*8])
	}
	a := kwDefaultIV

	var b [16]byte
	for j := 0; j < 6; j++ {
		for i := 0; i < n; i++ {
			copy(b[0:8], a[:])
			copy(b[8:16], r[i][:])
			block.Encrypt(b[:], b[:])
			t := uint64(n*j + (i + 1))
			for k := 0; k < 8; k++ {
				a[k] = b[k] ^ byte(t>>(56-8*k))
			}
			copy(r[i][:], b[8:16])
		}
	}

	out := make([]byte, 0, 8+len(dek))
	out = append(out, a[:]...)
	for i := 0; i < n; i++ {
		out = append(out, r[i][:]...)
	}
	return out, nil
}

// UnwrapKey implements AES-256-KW unwrap (RFC 3394). kek must be 32 bytes;
// wrapped must be exactly 40 bytes (the output shape of [WrapKey]). Returns
// [vaulterrors]-mappable failure via a plain error when the integrity check
// value does not match — the caller (KeyHierarchy) is responsible for
// collapsing this into UnwrapFailed without distinguishing it from a wrong
// KEK, since both failure modes look identical from here.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(kek) != 32 {
		return nil, fmt.Errorf("cryptoprimitives: kek must be 32 bytes, got %d", len(kek))
	}
	if len(wrapped) != 40 {
		return nil, fmt.Errorf("cryptoprimitives: wrapped must be 40 bytes, got %d", len(wrapped))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("cryptoprimitives: new cipher: %w", err)
	}

	n := (len(wrapped) / 8) - 1
	var a [8]byte
	copy(a[:], wrapped[0:8])
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[(i+1)*8:(i+2)*8])
	}

	var b [16]byte
	for j := 5; j >= 0; j-- {
		for i := n - 1; i >= 0; i-- {
			t := uint64(n*j + (i + 1))
			var aXor [8]byte
			copy(aXor[:], a[:])
			for k := 0; k < 8; k++ {
				aXor[k] ^= byte(t >> (56 - 8*k))
			}
			copy(b[0:8], aXor[:])
			copy(b[8:16], r[i][:])
			block.Decrypt(b[:], b[:])
			copy(a[:], b[0:8])
			copy(r[i][:], b[8:16])
		}
	}

	if !ConstantTimeCompare(a[:], kwDefaultIV[:]) {
		return nil, fmt.Errorf("cryptoprimitives: key unwrap integrity check failed")
	}

	out := make([]byte, 0, n*8)
	for i := 0; i < n; i++ {
		out = append(out, r[i][:]...)
	}
	return out, nil
}
