// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package signing

import (
	"errors"
	"sync"
)

const redacted = "[REDACTED]"

var errCredentialEmpty = errors.New("credencial vacia o ya consumida")

// Credential holds a password or PIN for exactly one sign invocation.
// It cannot be printed or serialized; the only read access is Use.
type Credential struct {
	mu     sync.Mutex
	secret []byte
}

func NewCredential(secret string) *Credential {
	return &Credential{secret: []byte(secret)}
}

func (c *Credential) Empty() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.secret) == 0
}

// Use hands the secret to fn. The secret is still wiped by the invoker
// once the sign call returns.
func (c *Credential) Use(fn func(secret string) error) error {
	if c == nil {
		return errCredentialEmpty
	}
	c.mu.Lock()
	if len(c.secret) == 0 {
		c.mu.Unlock()
		return errCredentialEmpty
	}
	secret := string(c.secret)
	c.mu.Unlock()
	return fn(secret)
}

// Wipe zeroes the secret. Safe on nil and on repeated calls.
func (c *Credential) Wipe() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.secret {
		c.secret[i] = 0
	}
	c.secret = nil
}

func (c *Credential) String() string   { return redacted }
func (c *Credential) GoString() string { return redacted }

func (c *Credential) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
