// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"digital-signer/pkg/applog"
	"digital-signer/pkg/metrics"
	"digital-signer/pkg/notice"
	"digital-signer/pkg/signing"
	"digital-signer/pkg/store"
	"digital-signer/pkg/transport"
	"digital-signer/pkg/usbprobe"
)

// Prober checks the USB security key.
type Prober interface {
	Probe(ctx context.Context) usbprobe.Result
}

// Config wires the API to the rest of the process. Mode and Prober are
// called per request so configuration reloads apply to new sessions.
type Config struct {
	Backend  signing.Backend
	Store    *store.Store
	Previews signing.PreviewOpener
	// PreviewHandler is mounted at /preview when set.
	PreviewHandler http.Handler
	Bus            *transport.Bus
	Mode           func() signing.Mode
	Prober         func() Prober
	USBRetry       time.Duration
	// IdleTimeout dismisses sessions with no request for that long.
	// Zero keeps them until DELETE or Close.
	IdleTimeout time.Duration
}

type entry struct {
	session *signing.Session
	host    *sessionHost
	seen    time.Time
}

// Server is the local HTTP surface used by the record view.
type Server struct {
	cfg     Config
	invoker *signing.Invoker

	now  func() time.Time
	stop chan struct{}
	once sync.Once

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewServer(cfg Config) *Server {
	if cfg.Mode == nil {
		cfg.Mode = func() signing.Mode { return signing.ModePassword }
	}
	s := &Server{
		cfg:      cfg,
		invoker:  signing.NewInvoker(cfg.Backend, nil, cfg.USBRetry),
		now:      time.Now,
		stop:     make(chan struct{}),
		sessions: make(map[string]*entry),
	}
	if cfg.IdleTimeout > 0 {
		go s.reapLoop(cfg.IdleTimeout)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.cfg.PreviewHandler != nil {
		r.Mount("/preview", s.cfg.PreviewHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/documents/{doctype}/{name}/actions", s.handleActions)
		r.Get("/documents/{doctype}/{name}/formats", s.handleFormats)
		r.Get("/documents/{doctype}/{name}/attachments", s.handleAttachments)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.withSession(s.handleGetSession))
		r.Delete("/sessions/{id}", s.handleDismissSession)
		r.Post("/sessions/{id}/format", s.withSession(s.handleSelectFormat))
		r.Post("/sessions/{id}/preview", s.withSession(s.handleOpenPreview))
		r.Post("/sessions/{id}/credential", s.withSession(s.handleCredential))
		r.Post("/sessions/{id}/selection", s.withSession(s.handleSelection))
		r.Post("/sessions/{id}/confirm", s.withSession(s.handleConfirm))

		r.Get("/usb/probe", s.handleProbe)
	})
	return r
}

// Close dismisses every open session.
func (s *Server) Close() {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	entries := s.sessions
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()
	for id, e := range entries {
		e.session.Dismiss()
		log.Printf("[API] Sesion %s cerrada al apagar", applog.MaskID(id))
	}
}

func (s *Server) reapLoop(idle time.Duration) {
	interval := idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.expireIdle()
		}
	}
}

// expireIdle dismisses sessions not used within IdleTimeout and returns
// how many were removed.
func (s *Server) expireIdle() int {
	if s.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.IdleTimeout)
	var expired []*entry
	s.mu.Lock()
	for id, e := range s.sessions {
		if e.seen.Before(cutoff) {
			expired = append(expired, e)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	for _, e := range expired {
		e.session.Dismiss()
		log.Printf("[API] Sesion %s cerrada por inactividad", applog.MaskID(e.session.ID()))
	}
	return len(expired)
}

func (s *Server) lookup(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if ok {
		e.seen = s.now()
	}
	return e, ok
}

// forget drops a session that reached a terminal state.
func (s *Server) forget(e *entry) {
	s.mu.Lock()
	if cur, ok := s.sessions[e.session.ID()]; ok && cur == e {
		delete(s.sessions, e.session.ID())
	}
	s.mu.Unlock()
}

type errorResponse struct {
	Error  string         `json:"error"`
	Kind   string         `json:"kind,omitempty"`
	Notice *notice.Notice `json:"notice,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[API] Error codificando respuesta: %v", err)
	}
}

func decodeJSONBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, err error) {
	n := signing.NoticeFor(err)
	resp := errorResponse{Error: err.Error(), Notice: &n}
	status := http.StatusInternalServerError
	if kind, ok := signing.KindOf(err); ok {
		resp.Kind = kind.String()
		status = statusFor(kind)
		var se *signing.Error
		if errors.As(err, &se) {
			resp.Error = se.Message
		}
	}
	writeJSON(w, status, resp)
}

func statusFor(k signing.Kind) int {
	switch k {
	case signing.KindValidation:
		return http.StatusUnprocessableEntity
	case signing.KindAuthentication:
		return http.StatusUnauthorized
	case signing.KindHardware:
		return http.StatusServiceUnavailable
	case signing.KindBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: msg})
}
