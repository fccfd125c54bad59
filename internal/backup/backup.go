// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package backup manages timestamped side-file copies of a vault container,
// written alongside the primary file as "<vault>.backup.<stamp>" and pruned
// to a bounded count. It never inspects the vault's contents — callers
// already hold the bytes to snapshot and the path to restore into.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rkhiriev/vaultengine/internal/logger"
	"github.com/rkhiriev/vaultengine/internal/utils"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

const (
	// DefaultMaxSnapshots is used when a Manager is constructed with
	// maxSnapshots <= 0.
	DefaultMaxSnapshots = 5
	// MinMaxSnapshots and MaxMaxSnapshots bound the configurable range.
	MinMaxSnapshots = 1
	MaxMaxSnapshots = 50

	stampSuffixLen = 8 // trailing hex chars of a uuid used to disambiguate same-second backups
)

// Manager rotates backup snapshots for a single vault path.
type Manager struct {
	vaultPath    string
	maxSnapshots int
	log          *logger.Logger
	uuids        *utils.UUIDGenerator
}

// New constructs a Manager for vaultPath. maxSnapshots is clamped into
// [MinMaxSnapshots, MaxMaxSnapshots]; 0 selects DefaultMaxSnapshots. log
// defaults to logger.Nop() if nil.
func New(vaultPath string, maxSnapshots int, log *logger.Logger) *Manager {
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	if maxSnapshots < MinMaxSnapshots {
		maxSnapshots = MinMaxSnapshots
	}
	if maxSnapshots > MaxMaxSnapshots {
		maxSnapshots = MaxMaxSnapshots
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{vaultPath: vaultPath, maxSnapshots: maxSnapshots, log: log, uuids: utils.NewUUIDGenerator()}
}

// Snapshot writes contents to a new backup file next to vaultPath and
// prunes the oldest snapshots beyond the configured maximum. The stamp
// combines a caller-supplied Unix timestamp (so callers stay in control of
// the clock, matching the rest of this module) with a short uuid suffix
// that disambiguates snapshots taken within the same second.
func (m *Manager) Snapshot(unixTimestamp int64, contents []byte) (string, error) {
	stamp := fmt.Sprintf("%d-%s", unixTimestamp, m.shortUUID())
	backupPath := m.backupPathForStamp(stamp)

	if err := os.WriteFile(backupPath, contents, 0o600); err != nil {
		return "", vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
	}

	if err := m.prune(); err != nil {
		m.log.Warn().Err(err).Msg("backup prune failed after snapshot")
	}

	m.log.Info().Str("path", backupPath).Msg("backup snapshot written")
	return backupPath, nil
}

// MostRecent returns the path to the newest backup file for this vault, or
// ErrNotFound if none exist.
func (m *Manager) MostRecent() (string, error) {
	paths, err := m.sortedSnapshotPaths()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", vaulterrors.New(vaulterrors.KindNotFound)
	}
	return paths[len(paths)-1], nil
}

// Restore reads and returns the contents of the most recent backup file.
func (m *Manager) Restore() ([]byte, error) {
	path, err := m.MostRecent()
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindReadFailed, err)
	}
	return contents, nil
}

func (m *Manager) prune() error {
	paths, err := m.sortedSnapshotPaths()
	if err != nil {
		return err
	}
	if len(paths) <= m.maxSnapshots {
		return nil
	}
	toRemove := paths[:len(paths)-m.maxSnapshots]
	for _, p := range toRemove {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return vaulterrors.Wrap(vaulterrors.KindWriteFailed, err)
		}
		m.log.Debug().Str("path", p).Msg("pruned old backup snapshot")
	}
	return nil
}

// sortedSnapshotPaths returns this vault's backup files sorted oldest
// first. Lexical sort is correct here because the stamp's Unix-timestamp
// prefix is fixed-width-free but monotonically increasing for any
// realistic vault lifetime, and ties within the same second are broken by
// the uuid suffix, which carries no ordering meaning but keeps the sort
// stable.
func (m *Manager) sortedSnapshotPaths() ([]string, error) {
	dir := filepath.Dir(m.vaultPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindReadFailed, err)
	}

	prefix := filepath.Base(m.vaultPath) + ".backup."
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *Manager) backupPathForStamp(stamp string) string {
	return m.vaultPath + ".backup." + stamp
}

// shortUUID returns a time-ordered (v7) uuid's trailing hex chars, used
// only to disambiguate snapshots stamped within the same second — the
// unix-timestamp prefix already carries the real ordering.
func (m *Manager) shortUUID() string {
	id := strings.ReplaceAll(m.uuids.Generate(), "-", "")
	if len(id) > stampSuffixLen {
		id = id[len(id)-stampSuffixLen:]
	}
	return id
}
