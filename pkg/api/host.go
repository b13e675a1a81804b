// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package api

import (
	"log"
	"sync"

	"digital-signer/pkg/notice"
	"digital-signer/pkg/signing"
)

const maxNotices = 50

type progress struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// sessionHost collects what a record view would show for one session so
// the client can poll it.
type sessionHost struct {
	mu       sync.Mutex
	notices  []notice.Notice
	progress *progress
	artifact *signing.ArtifactRef
	reloads  int
}

func (h *sessionHost) Notify(n notice.Notice) {
	log.Printf("[API] notice severity=%s title=%q", n.Severity, n.Title)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices = append(h.notices, n)
	if len(h.notices) > maxNotices {
		h.notices = h.notices[len(h.notices)-maxNotices:]
	}
}

func (h *sessionHost) ShowProgress(title, message string) {
	h.mu.Lock()
	h.progress = &progress{Title: title, Message: message}
	h.mu.Unlock()
}

func (h *sessionHost) HideProgress() {
	h.mu.Lock()
	h.progress = nil
	h.mu.Unlock()
}

func (h *sessionHost) ReloadRecord(_ signing.DocumentRef, ref signing.ArtifactRef) {
	h.mu.Lock()
	h.artifact = &ref
	h.reloads++
	h.mu.Unlock()
}

func (h *sessionHost) snapshot() ([]notice.Notice, *progress, *signing.ArtifactRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]notice.Notice{}, h.notices...), h.progress, h.artifact
}
