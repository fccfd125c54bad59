// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

//go:build windows

package securebuffer

import "golang.org/x/sys/windows"

// pageLock attempts VirtualLock on the region backing data. Best-effort:
// the caller logs and continues on failure.
func pageLock(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return windows.VirtualLock(&data[0], uintptr(len(data)))
}

// pageUnlock releases a page lock acquired by pageLock. Errors are ignored
// deliberately — cleanup must never fail.
func pageUnlock(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = windows.VirtualUnlock(&data[0], uintptr(len(data)))
}
