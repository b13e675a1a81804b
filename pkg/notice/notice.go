// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

// Package notice holds the user-visible message shape shared by the signing
// session, the hardware-token probe and the host API.
package notice

import "strings"

// Severity drives the indicator colour the host shows next to a notice.
type Severity int

const (
	Informational Severity = iota
	Warning
	Blocking
)

func (s Severity) String() string {
	switch s {
	case Informational:
		return "informational"
	case Warning:
		return "warning"
	case Blocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// Indicator returns the colour name used by the host record framework.
func (s Severity) Indicator() string {
	switch s {
	case Warning:
		return "orange"
	case Blocking:
		return "red"
	default:
		return "green"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Notice struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	// Details carries list items (e.g. detected token slots) rendered below the message.
	Details []string `json:"details,omitempty"`
}

func Info(title, message string) Notice {
	return Notice{Title: title, Message: message, Severity: Informational}
}

func Warn(title, message string) Notice {
	return Notice{Title: title, Message: message, Severity: Warning}
}

func Block(title, message string) Notice {
	return Notice{Title: title, Message: message, Severity: Blocking}
}

// Text flattens the notice for logs and terminal output.
func (n Notice) Text() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(n.Severity.String())
	b.WriteString("] ")
	if n.Title != "" {
		b.WriteString(n.Title)
		b.WriteString(": ")
	}
	b.WriteString(n.Message)
	for _, d := range n.Details {
		b.WriteString("\n  - ")
		b.WriteString(d)
	}
	return b.String()
}
