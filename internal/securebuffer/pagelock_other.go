// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

//go:build !unix && !windows

package securebuffer

import "errors"

// pageLock is a no-op stub for platforms without a page-lock syscall
// binding in golang.org/x/sys. Always reports failure so callers log and
// continue, exactly as the best-effort contract requires.
func pageLock(data []byte) error {
	return errors.New("securebuffer: page locking not supported on this platform")
}

func pageUnlock(data []byte) {}
