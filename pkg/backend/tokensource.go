// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package backend

import (
	"fmt"
	"strings"

	"digital-signer/pkg/signing"
)

// TokenSource opens a PKCS#11 USB key. CertLabel selects the certificate
// and key by CKA_LABEL; empty takes the first signing-capable pair.
type TokenSource struct {
	Library   string
	Slot      int
	CertLabel string
}

func mapTokenText(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "CKR_PIN_"):
		return fmt.Errorf("%v: %w", err, signing.ErrCredentialRejected)
	case strings.Contains(msg, "could not find PKCS#11 token"),
		strings.Contains(msg, "CKR_TOKEN_NOT_PRESENT"),
		strings.Contains(msg, "CKR_DEVICE_REMOVED"),
		strings.Contains(msg, "CKR_SLOT_ID_INVALID"):
		return fmt.Errorf("%v: %w", err, signing.ErrTokenUnavailable)
	}
	return err
}
