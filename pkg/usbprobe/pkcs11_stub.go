// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

//go:build !cgo
// +build !cgo

package usbprobe

import "errors"

func listPKCS11Slots(string) ([]SlotInfo, error) {
	return nil, errors.New("PKCS11 support not installed")
}
