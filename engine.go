// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package vaultengine is the root façade: a single-threaded-cooperative,
// mutex-guarded orchestrator over internal/cryptoprimitives,
// internal/securebuffer, internal/fec, internal/header,
// internal/keyhierarchy, internal/session, internal/token, and
// internal/backup. It owns the on-disk container format and reads and
// writes the vault file itself; internal/backup reads, writes and prunes
// the backup files beside it.
package vaultengine

import (
	"sync"

	"github.com/rkhiriev/vaultengine/internal/backup"
	"github.com/rkhiriev/vaultengine/internal/config"
	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/logger"
	"github.com/rkhiriev/vaultengine/internal/securebuffer"
	"github.com/rkhiriev/vaultengine/internal/session"
	"github.com/rkhiriev/vaultengine/internal/token"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// Engine is a single vault's open/closed lifecycle and the only entry
// point host applications use. Methods are not re-entrant; the embedded
// mutex only serializes calls arriving from different goroutines, it does
// not make the engine safe for concurrent mutation from within a single
// call.
type Engine struct {
	mu sync.Mutex

	cfg    *config.EngineConfig
	log    *logger.Logger
	driver token.Driver

	path    string
	open    bool
	header  *header.VaultHeader
	dek     *securebuffer.Buffer
	session *session.Session

	sessionMgr *session.Manager
	backupMgr  *backup.Manager
}

// New constructs an Engine. cfg defaults to [config.Default] if nil; log
// defaults to [logger.Nop] if nil; driver defaults to [token.NoneDriver]
// if nil. clock is handed to the session manager, which uses it for the
// timestamps it records in slot metadata (password changes, token
// enrollment, username-hash migration, history entries). The vault's
// creation time, last-login times and backup stamps are taken from
// time.Now, not from clock.
//
// If cfg.Provider.RequireValidatedMode is set, New attempts to enable the
// process-wide validated-mode crypto provider and fails construction if it
// cannot be enabled (spec §9 "Provider as capability set").
func New(cfg *config.EngineConfig, log *logger.Logger, driver token.Driver, clock session.Clock) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	if driver == nil {
		driver = token.NoneDriver{}
	}

	cryptoprimitives.MarkAvailable()
	if cfg.Provider.RequireValidatedMode && !cryptoprimitives.TryEnableValidatedMode() {
		return nil, vaulterrors.New(vaulterrors.KindCryptoProviderError)
	}

	return &Engine{
		cfg:        cfg,
		log:        log,
		driver:     driver,
		sessionMgr: session.New(log.GetChildLogger(), clock),
	}, nil
}

// requireOpen returns ErrNotOpen unless a vault is currently open. Callers
// must hold e.mu.
func (e *Engine) requireOpen() error {
	if !e.open {
		return vaulterrors.New(vaulterrors.KindNotOpen)
	}
	return nil
}

// requireClosed returns ErrAlreadyOpen if a vault is currently open.
// Callers must hold e.mu.
func (e *Engine) requireClosed() error {
	if e.open {
		return vaulterrors.New(vaulterrors.KindAlreadyOpen)
	}
	return nil
}

// Session returns the authenticated session for the currently open vault,
// or nil if no vault is open.
func (e *Engine) Session() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return nil
	}
	return e.session
}

// ProviderMode reports the process-wide crypto-provider capability state:
// "uninitialized", "default-available", "validated-available", or
// "validated-enabled".
func ProviderMode() string {
	return cryptoprimitives.Mode().String()
}
