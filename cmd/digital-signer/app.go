// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package main

import (
	"fmt"
	"log"

	"digital-signer/pkg/backend"
	"digital-signer/pkg/config"
	"digital-signer/pkg/signing"
	"digital-signer/pkg/store"
)

// app carries the loaded configuration and the flag overrides shared by
// every subcommand.
type app struct {
	configPath string
	listen     string
	mode       string

	loader *config.Loader
}

func (a *app) load() error {
	if a.mode != "" {
		if _, err := signing.ParseMode(a.mode); err != nil {
			return err
		}
	}
	a.loader = config.NewLoader(a.configPath)
	if _, err := a.loader.Load(); err != nil {
		return fmt.Errorf("cargar configuracion %s: %w", a.configPath, err)
	}
	log.Printf("[Config] Cargada desde %s", a.configPath)
	return nil
}

// config returns the current configuration with flag overrides applied.
// The loader's copy is never modified.
func (a *app) config() *config.Config {
	cfg := *a.loader.Config()
	if a.listen != "" {
		cfg.Server.Listen = a.listen
	}
	if a.mode != "" {
		cfg.Signing.Mode = a.mode
	}
	return &cfg
}

func (a *app) signingMode() signing.Mode {
	return a.config().SigningMode()
}

func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.config().Store.Path)
}

func (a *app) renditions() *backend.Renditions {
	return backend.NewRenditions(a.config().Store.RenditionsDir)
}

func (a *app) backend(st *store.Store) *backend.Local {
	return backend.New(st, a.renditions(), func() config.SigningConfig {
		return a.config().Signing
	})
}
