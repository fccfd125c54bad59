// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package header

import (
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// MaxSlots is the maximum number of key slots a vault header may carry
// (spec §3, invariant 3).
const MaxSlots = 32

// VaultHeader is SecurityPolicy || u8 slot_count || concatenated key
// slots, exactly as spec §3 defines it. It never carries FEC framing or
// ciphertext itself — both live one layer up, in the file envelope.
type VaultHeader struct {
	Policy *SecurityPolicy
	Slots  []*KeySlot
}

// Encode serializes h to its wire form. Fails if h carries more than
// [MaxSlots] slots — callers are expected to enforce that limit before it
// gets this far, but the codec double-checks rather than silently
// truncating.
func (h *VaultHeader) Encode() ([]byte, error) {
	if len(h.Slots) > MaxSlots {
		return nil, vaulterrors.New(vaulterrors.KindInvalidData)
	}

	out := h.Policy.Encode()
	out = append(out, byte(len(h.Slots)))
	for _, slot := range h.Slots {
		out = append(out, slot.Encode()...)
	}
	return out, nil
}

// DecodeVaultHeader parses a VaultHeader from b. The policy block's exact
// length cannot be fixed in advance from len(b) alone (b also holds the
// slot_count byte and every slot), so each accepted policy revision length
// is tried in turn, longest first — the common case once any vault has
// been through a single Save, since the codec always writes the current
// revision — falling back to shorter legacy lengths only if decoding the
// policy or the slot table that follows it fails.
func DecodeVaultHeader(b []byte) (*VaultHeader, error) {
	var lastErr error
	for _, policyLen := range []int{PolicyLenCurrent, PolicyLenWithArgon2, PolicyLenWithUsername, PolicyLenV1Base} {
		if len(b) < policyLen+1 {
			continue
		}

		policy, err := DecodeSecurityPolicy(b[:policyLen])
		if err != nil {
			lastErr = err
			continue
		}

		rest := b[policyLen:]
		slotCount := int(rest[0])
		slots, err := decodeSlotTable(rest[1:], slotCount)
		if err != nil {
			lastErr = err
			continue
		}

		return &VaultHeader{Policy: policy, Slots: slots}, nil
	}
	if lastErr == nil {
		lastErr = vaulterrors.New(vaulterrors.KindCorrupted)
	}
	return nil, lastErr
}

// decodeSlotTable decodes slotCount concatenated slots from rest. Because
// individual slots carry no length prefix of their own, the table's group
// level (how many optional trailing field groups every slot in it
// carries) is established once, for the whole table, by trying levels
// from most-complete to least and keeping the first one under which
// decoding all slotCount slots consumes rest exactly with nothing left
// over. This matches how the format actually evolves: a header written by
// one codec revision carries the same field set in every slot; headers
// are never saved with some slots at one revision and others at another.
func decodeSlotTable(rest []byte, slotCount int) ([]*KeySlot, error) {
	var lastErr error
	for level := maxSlotGroup; level >= groupCore; level-- {
		r := &slotReader{b: rest}
		slots := make([]*KeySlot, 0, slotCount)
		ok := true
		for i := 0; i < slotCount; i++ {
			slot, reached, err := decodeKeySlotAtLevel(r, level)
			if err != nil {
				lastErr = err
				ok = false
				break
			}
			if reached != level {
				// Ran out of bytes before reaching the requested level —
				// this level doesn't fit every slot; try a shorter one.
				ok = false
				break
			}
			slots = append(slots, slot)
		}
		if ok && r.remaining() == 0 {
			return slots, nil
		}
	}
	if lastErr == nil {
		lastErr = vaulterrors.New(vaulterrors.KindCorrupted)
	}
	return nil, lastErr
}

// slotCoreMinSize is the length of a KeySlot's mandatory prefix: active,
// username_hash_len, username_hash, username_salt, password_salt,
// wrapped_dek, role, must_change_password, password_changed_at,
// last_login_at. The kek_derivation_algo byte is not counted, since legacy
// slots omit it.
const slotCoreMinSize = 1 + 1 + usernameHashMaxLen + usernameSaltSize + passwordSaltSize + wrappedDEKSize + 1 + 1 + 8 + 8

