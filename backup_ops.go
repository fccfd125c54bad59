// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package vaultengine

import (
	"os"

	"github.com/rkhiriev/vaultengine/internal/backup"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// RestoreFromMostRecentBackup replaces the vault file at path with its
// most recent backup snapshot and, if a vault is currently open against
// path, closes it first so the caller must re-open against the restored
// contents. maxBackups configures the retention the restore's own
// (otherwise transient) backup.Manager uses to locate snapshots; pass the
// same value the vault was created or configured with.
func (e *Engine) RestoreFromMostRecentBackup(path string, maxBackups int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.open && e.path == path {
		e.dek.Release()
		e.dek = nil
		e.header = nil
		e.session = nil
		e.path = ""
		e.backupMgr = nil
		e.open = false
	}

	mgr := backup.New(path, maxBackups, e.log.GetChildLogger())
	contents, err := mgr.Restore()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, contents, 0o600); err != nil {
		return vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
	}

	e.log.Info().Str("path", path).Msg("vault restored from most recent backup")
	return nil
}
