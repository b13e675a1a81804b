// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

// Package transport carries signature anchors from rendering surfaces back to
// the signing session that opened them.
//
// A Subscription only accepts messages whose source was explicitly allowed
// with Allow, so a surface can never feed anchors into a session that did not
// open it. Subscriptions must be closed; Bus.Subscribers reports leaks.
package transport

import (
	"errors"
	"log"
	"sync"

	"digital-signer/pkg/applog"
)

var (
	ErrUnknownSource = errors.New("transport: origen no registrado en ninguna sesion")
	ErrClosed        = errors.New("transport: suscripcion cerrada")
)

type Handler func(source string, m Message)

type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

type Subscription struct {
	bus     *Bus
	handler Handler

	mu      sync.Mutex
	sources map[string]struct{}
	closed  bool
}

// Subscribe registers h. The returned Subscription accepts nothing until
// a source is allowed.
func (b *Bus) Subscribe(h Handler) *Subscription {
	s := &Subscription{
		bus:     b,
		handler: h,
		sources: make(map[string]struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Allow binds a rendering surface instance to this subscription.
func (s *Subscription) Allow(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sources[source] = struct{}{}
	return nil
}

func (s *Subscription) accepts(source string) (Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	_, ok := s.sources[source]
	return s.handler, ok
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.sources = nil
	s.mu.Unlock()

	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
}

func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Publish delivers m to every subscription bound to source, in the caller's
// goroutine. Messages from one surface are therefore delivered in the order
// that surface publishes them.
func (b *Bus) Publish(source string, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	var targets []Handler
	for s := range b.subs {
		if h, ok := s.accepts(source); ok {
			targets = append(targets, h)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		log.Printf("[Transport] Dropped %s from unknown source=%s", m.Type, applog.MaskID(source))
		return ErrUnknownSource
	}
	for _, h := range targets {
		h(source, m)
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
