// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

// Package usbprobe checks whether a PKCS#11 hardware token is attached and
// reports what it finds as Connected, NotFound or Error.
package usbprobe

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"digital-signer/pkg/metrics"
	"digital-signer/pkg/notice"
	"digital-signer/pkg/signing"
)

type Status int

const (
	StatusConnected Status = iota
	StatusNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "success"
	case StatusNotFound:
		return "warning"
	default:
		return "error"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SlotInfo is a read-only snapshot of one slot with a token present.
type SlotInfo struct {
	SlotID       uint   `json:"slot_id"`
	Description  string `json:"description"`
	Manufacturer string `json:"manufacturer"`
}

func (s SlotInfo) String() string {
	return fmt.Sprintf("Slot %d: %s (%s)", s.SlotID, s.Description, s.Manufacturer)
}

type Result struct {
	Status  Status     `json:"status"`
	Message string     `json:"message"`
	Slots   []SlotInfo `json:"slots,omitempty"`
}

// Notice maps the result onto the host's notice severities.
func (r Result) Notice() notice.Notice {
	switch r.Status {
	case StatusConnected:
		n := notice.Info("USB Key Connected", r.Message)
		for _, s := range r.Slots {
			n.Details = append(n.Details, s.String())
		}
		return n
	case StatusNotFound:
		return notice.Warn("No USB Key Found", r.Message+". Please ensure your USB security key is properly connected.")
	default:
		return notice.Block("Connection Error", r.Message)
	}
}

// Err returns nil when a token is connected and a hardware error otherwise.
func (r Result) Err() error {
	if r.Status == StatusConnected {
		return nil
	}
	return &signing.Error{Kind: signing.KindHardware, Message: r.Message}
}

// DefaultModules are tried in order when no library is configured.
var DefaultModules = []string{
	"/usr/lib/opensc-pkcs11.so",
	"/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so",
	"/usr/lib64/opensc-pkcs11.so",
	"/usr/lib/pkcs11/opensc-pkcs11.so",
	"/usr/local/lib/opensc-pkcs11.so",
	"/usr/lib/libeTPkcs11.so",
	"/usr/lib/libeToken.so",
	`C:\Windows\System32\eTPKCS11.dll`,
	`C:\Windows\System32\eps2003csp11.dll`,
}

var statFile = os.Stat

// ResolveModule returns the configured library when set, otherwise the
// first default module present on disk. Empty means nothing usable.
func ResolveModule(configured string) string {
	if p := strings.TrimSpace(configured); p != "" {
		return p
	}
	for _, p := range DefaultModules {
		if _, err := statFile(p); err == nil {
			return p
		}
	}
	return ""
}

// listSlots is replaced in tests.
var listSlots = listPKCS11Slots

// Prober runs the one-shot connectivity check.
type Prober struct {
	Library string
}

func New(library string) *Prober {
	return &Prober{Library: library}
}

func (p *Prober) Probe(ctx context.Context) Result {
	res := p.probe(ctx)
	metrics.RecordProbe(res.Status.String())
	log.Printf("[Probe] status=%s slots=%d message=%q", res.Status, len(res.Slots), res.Message)
	return res
}

func (p *Prober) probe(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Result{Status: StatusError, Message: err.Error()}
	}
	module := ResolveModule(p.Library)
	if module == "" {
		return Result{Status: StatusError, Message: "PKCS11 library path not configured"}
	}
	slots, err := listSlots(module)
	if err != nil {
		return Result{Status: StatusError, Message: err.Error()}
	}
	if len(slots) == 0 {
		return Result{Status: StatusNotFound, Message: "No USB security keys detected"}
	}
	return Result{
		Status:  StatusConnected,
		Message: fmt.Sprintf("Found %d USB security key(s)", len(slots)),
		Slots:   slots,
	}
}
