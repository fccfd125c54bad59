// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package securebuffer provides a scoped-secret byte buffer: construction
// allocates and attempts an OS page lock (best-effort), and [Buffer.Release]
// guarantees the region is zeroized and unlocked on every call, including
// when the caller panics between acquisition and release (via defer).
//
// The engine keeps the unwrapped vault DEK of an open vault in a [Buffer].
// Derived KEKs, token responses, password-hash outputs and decrypted
// payloads are ordinary byte slices and are not held in a [Buffer].
package securebuffer

import (
	"fmt"
	"sync"

	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/logger"
)

// Buffer owns a fixed-length byte region containing secret material.
// It is not safe to copy — copying a Buffer's backing slice (rather than
// acquiring a new one) defeats the zeroize-on-release guarantee, since the
// copy's memory is never tracked for cleanup.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	locked   bool
	released bool
}

// New allocates a [Buffer] of length n, copies src into it if src is
// non-nil (src itself is not modified or zeroized by New), and, if
// pageLockEnabled is true, attempts to page-lock the region. Page-lock
// failure is logged at debug level through log (a nil log is treated as
// [logger.Nop]) and does not fail construction — the contract is
// best-effort, matching spec §4.2. pageLockEnabled false skips the attempt
// entirely, for callers (or configurations) that have opted out of locking.
func New(n int, src []byte, pageLockEnabled bool, log *logger.Logger) (*Buffer, error) {
	if log == nil {
		log = logger.Nop()
	}
	if src != nil && len(src) != n {
		return nil, fmt.Errorf("securebuffer: src length %d does not match n %d", len(src), n)
	}

	b := &Buffer{data: make([]byte, n)}
	if src != nil {
		copy(b.data, src)
	}

	if pageLockEnabled {
		if err := pageLock(b.data); err != nil {
			log.Debug().Err(err).Msg("securebuffer: page lock failed, continuing without it")
		} else {
			b.locked = true
		}
	}

	return b, nil
}

// Bytes returns the buffer's backing slice. The returned slice aliases the
// buffer's memory; callers must not retain it past [Buffer.Release].
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Len returns the buffer's length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Release zeroizes the buffer's contents and releases the page lock if one
// was held. Idempotent: calling Release more than once is safe and the
// second call is a no-op.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return
	}
	b.released = true

	cryptoprimitives.Zeroize(b.data)
	if b.locked {
		pageUnlock(b.data)
	}
}
