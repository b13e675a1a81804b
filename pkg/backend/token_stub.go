//go:build !cgo
// +build !cgo

// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package backend

import (
	"fmt"

	"digital-signer/pkg/signing"
)

func (s TokenSource) Unlock(string) (*Key, error) {
	return nil, fmt.Errorf("PKCS11 support not installed: %w", signing.ErrTokenUnavailable)
}
