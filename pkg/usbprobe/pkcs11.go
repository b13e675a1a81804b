// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

//go:build cgo
// +build cgo

package usbprobe

import (
	"fmt"
	"strings"

	"github.com/miekg/pkcs11"
)

func listPKCS11Slots(modulePath string) ([]SlotInfo, error) {
	p := pkcs11.New(modulePath)
	if p == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", modulePath)
	}
	defer p.Destroy()

	if err := p.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PKCS#11: %v", err)
	}
	defer p.Finalize()

	// Only slots with a token present.
	slots, err := p.GetSlotList(true)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot list: %v", err)
	}

	out := make([]SlotInfo, 0, len(slots))
	for _, slot := range slots {
		info, err := p.GetTokenInfo(slot)
		if err != nil {
			return nil, fmt.Errorf("failed to read token in slot %d: %v", slot, err)
		}
		out = append(out, SlotInfo{
			SlotID:       slot,
			Description:  strings.TrimSpace(info.Label),
			Manufacturer: strings.TrimSpace(info.ManufacturerID),
		})
	}
	return out, nil
}
