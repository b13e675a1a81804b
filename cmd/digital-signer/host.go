// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package main

import (
	"fmt"
	"io"

	"digital-signer/pkg/notice"
	"digital-signer/pkg/signing"
)

// consoleHost prints what a record view would show.
type consoleHost struct {
	out io.Writer
}

func (h consoleHost) Notify(n notice.Notice) {
	fmt.Fprintln(h.out, n.Text())
}

func (h consoleHost) ShowProgress(title, message string) {
	fmt.Fprintf(h.out, "%s: %s\n", title, message)
}

func (h consoleHost) HideProgress() {}

func (h consoleHost) ReloadRecord(doc signing.DocumentRef, ref signing.ArtifactRef) {
	fmt.Fprintf(h.out, "%s: attached %s (%s)\n", doc, ref.FileName, ref.ID)
}
