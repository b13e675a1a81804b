// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package signing

import (
	"fmt"
	"strings"
)

// Mode selects where the signing key lives.
type Mode int

const (
	ModePassword Mode = iota
	ModeUSBToken
)

func (m Mode) String() string {
	switch m {
	case ModeUSBToken:
		return "usb_token"
	default:
		return "password"
	}
}

// ParseMode accepts the configuration spellings used by the settings file
// and the environment.
func ParseMode(v string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "password", "pfx":
		return ModePassword, nil
	case "usb", "usb_token", "usb-token", "token", "pkcs11":
		return ModeUSBToken, nil
	default:
		return ModePassword, fmt.Errorf("modo de firma no soportado: %q", v)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Flow is chosen when a session is created and never changes.
type Flow int

const (
	// FlowLocation captures click-selected anchors from a preview.
	FlowLocation Flow = iota
	// FlowPages signs all pages or a page range at the default position.
	FlowPages
)

func (f Flow) String() string {
	if f == FlowPages {
		return "pages"
	}
	return "location"
}

func ParseFlow(v string) (Flow, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "location", "preview":
		return FlowLocation, nil
	case "pages", "page_range", "all_pages":
		return FlowPages, nil
	default:
		return FlowLocation, fmt.Errorf("flujo de firma no soportado: %q", v)
	}
}

// CredentialPrompt is what the credential field shows for a mode.
type CredentialPrompt struct {
	Label string `json:"label"`
	Help  string `json:"help,omitempty"`
}

func PromptFor(m Mode) CredentialPrompt {
	if m == ModeUSBToken {
		return CredentialPrompt{
			Label: "Enter USB Key PIN",
			Help:  "Enter the PIN for your USB security key",
		}
	}
	return CredentialPrompt{Label: "Enter PFX Password"}
}

// DialogTitle returns the dialog title for a mode and flow.
func DialogTitle(m Mode, f Flow) string {
	switch {
	case f == FlowPages && m == ModeUSBToken:
		return "Sign with USB Security Key"
	case f == FlowPages:
		return "Choose Print Format"
	case m == ModeUSBToken:
		return "Sign PDF with USB Security Key"
	default:
		return "Sign PDF"
	}
}

// USBBanner is shown above the preview when signing with a hardware token.
const USBBanner = "Using USB Security Key for signing. PIN will be required when signing."
