// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Command vaultdemo exercises the vaultengine façade end to end: report
// the provider mode, create a V2 vault, add a second user, save a record
// payload, close the vault, and reopen it. It is a smoke-test harness, not a product
// CLI — a real frontend (GUI or shell) is out of this module's scope.
package main

import (
	"fmt"
	"os"

	"github.com/rkhiriev/vaultengine"
	"github.com/rkhiriev/vaultengine/internal/config"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "vaultdemo:", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := os.MkdirTemp("", "vaultdemo-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	path := dir + "/demo.kptw"

	log := logger.NewLogger("vaultdemo")
	cfg := config.Default()
	engine, err := vaultengine.New(cfg, log, nil, nil)
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}

	fmt.Println("provider mode:", vaultengine.ProviderMode())

	if err := engine.CreateV2(path, "root", "correct horse battery staple", vaultengine.CreatePolicy{}); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	fmt.Println("vault created at", path)

	if _, err := engine.AddUser("alice", "another strong password", header.RoleStandard); err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	fmt.Println("user alice added")

	if err := engine.Save([]byte(`{"records":[]}`), true); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	fmt.Println("vault saved")

	if err := engine.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	fmt.Println("vault closed")

	payload, err := engine.OpenV2(path, "root", "correct horse battery staple", nil)
	if err != nil {
		return fmt.Errorf("reopen: %w", err)
	}
	fmt.Printf("vault reopened, payload=%q\n", payload)

	return engine.Close()
}
