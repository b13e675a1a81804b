// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package version

import "fmt"

const CurrentVersion = "0.3.0"

var (
	// Se pueden sobrescribir en compilacion con -ldflags:
	// -X digital-signer/pkg/version.BuildCommit=<hash>
	// -X digital-signer/pkg/version.BuildDate=<YYYY-MM-DDTHH:MM:SSZ>
	BuildCommit = "local"
	BuildDate   = "desconocida"
)

func String() string {
	return fmt.Sprintf("%s (commit %s, %s)", CurrentVersion, BuildCommit, BuildDate)
}
