// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package cryptoprimitives

import "crypto/subtle"

// ConstantTimeCompare reports whether a and b are equal in time
// independent of their contents, to avoid leaking information about secret
// material through timing side channels. Inputs of unequal length return
// false at once, so their lengths, but not their contents, can be observed.
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
