// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package signing

import (
	"errors"
	"strings"

	"digital-signer/pkg/notice"
)

var (
	// ErrCredentialRejected is wrapped by backends when the password or PIN is wrong.
	ErrCredentialRejected = errors.New("credencial rechazada")
	// ErrTokenUnavailable is wrapped by backends when the hardware token is missing.
	ErrTokenUnavailable = errors.New("token USB no disponible")
)

type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindValidation
	KindAuthentication
	KindHardware
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindHardware:
		return "hardware"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is the single failure type surfaced to the user by a session.
type Error struct {
	Kind    Kind
	Message string
	// Lockout is set when repeated attempts may lock the hardware token.
	Lockout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the classification carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

const lockoutMessage = "Invalid PIN. Please check your USB key PIN and try again. Warning: Multiple failed attempts may lock your USB key."

// classify maps an opaque backend failure onto the error taxonomy.
func classify(mode Mode, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	switch {
	case errors.Is(err, ErrTokenUnavailable):
		return &Error{Kind: KindHardware, Message: msg, Err: err}
	case mode == ModeUSBToken && (errors.Is(err, ErrCredentialRejected) || strings.Contains(msg, "PIN")):
		return &Error{Kind: KindAuthentication, Message: lockoutMessage, Lockout: true, Err: err}
	case errors.Is(err, ErrCredentialRejected):
		return &Error{Kind: KindAuthentication, Message: "Password is wrong.", Err: err}
	default:
		return &Error{Kind: KindBackend, Message: msg, Err: err}
	}
}

// NoticeFor turns any error into a user-visible notice. Nil yields a zero Notice.
func NoticeFor(err error) notice.Notice {
	if err == nil {
		return notice.Notice{}
	}
	var se *Error
	if !errors.As(err, &se) {
		return notice.Block("Error", err.Error())
	}
	switch se.Kind {
	case KindConfiguration:
		return notice.Block("Configuration Error", se.Error())
	case KindValidation:
		return notice.Warn("Missing Information", se.Error())
	case KindAuthentication:
		return notice.Block("Authentication Failed", se.Error())
	case KindHardware:
		return notice.Block("USB Key Error", se.Error())
	default:
		return notice.Block("Signing Failed", se.Error())
	}
}
