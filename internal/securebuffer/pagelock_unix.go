// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

//go:build unix

package securebuffer

import "golang.org/x/sys/unix"

// pageLock attempts to mlock the region backing data so it is never
// swapped to disk. Best-effort: the caller logs and continues on failure
// (e.g. RLIMIT_MEMLOCK exhausted, unprivileged container).
func pageLock(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Mlock(data)
}

// pageUnlock releases a page lock acquired by pageLock. Errors are ignored
// deliberately — there is nothing actionable a caller can do with an
// munlock failure during cleanup, and Release must never fail.
func pageUnlock(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Munlock(data)
}
