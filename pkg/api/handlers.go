// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"digital-signer/pkg/applog"
	"digital-signer/pkg/notice"
	"digital-signer/pkg/signing"
	"digital-signer/pkg/store"
	"digital-signer/pkg/version"
)

// Action is one entry of the record's signing menu.
type Action struct {
	ID     string                    `json:"id"`
	Label  string                    `json:"label"`
	Title  string                    `json:"title,omitempty"`
	Flow   string                    `json:"flow,omitempty"`
	Prompt *signing.CredentialPrompt `json:"prompt,omitempty"`
}

const (
	ActionSignPages    = "sign_pages"
	ActionSignLocation = "sign_location"
	ActionTestUSB      = "test_usb"
)

// Actions lists the menu for a document. Nothing is offered until the
// document is finalized.
func Actions(doc store.Document, mode signing.Mode) []Action {
	if !doc.Finalized() {
		return []Action{}
	}
	prompt := signing.PromptFor(mode)
	actions := []Action{
		{ID: ActionSignPages, Label: "Sign & Attach PDF", Title: signing.DialogTitle(mode, signing.FlowPages), Flow: signing.FlowPages.String(), Prompt: &prompt},
		{ID: ActionSignLocation, Label: "Sign with Preview PDF", Title: signing.DialogTitle(mode, signing.FlowLocation), Flow: signing.FlowLocation.String(), Prompt: &prompt},
	}
	if mode == signing.ModeUSBToken {
		actions = append(actions, Action{ID: ActionTestUSB, Label: "Test USB Connection"})
	}
	return actions
}

func docParams(r *http.Request) signing.DocumentRef {
	return signing.DocumentRef{DocType: chi.URLParam(r, "doctype"), Name: chi.URLParam(r, "name")}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
}

func (s *Server) document(w http.ResponseWriter, r *http.Request, ref signing.DocumentRef) (store.Document, bool) {
	doc, err := s.cfg.Store.GetDocument(r.Context(), ref.DocType, ref.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, ref.String()+" not found.")
			return store.Document{}, false
		}
		writeError(w, err)
		return store.Document{}, false
	}
	return doc, true
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r, docParams(r))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document": doc,
		"mode":     s.cfg.Mode(),
		"actions":  Actions(doc, s.cfg.Mode()),
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	ref := docParams(r)
	formats, err := s.cfg.Backend.ListPrintFormats(r.Context(), ref.DocType)
	if err != nil {
		writeError(w, err)
		return
	}
	if formats == nil {
		formats = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"formats": formats})
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	ref := docParams(r)
	atts, err := s.cfg.Store.Attachments(r.Context(), ref.DocType, ref.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	if atts == nil {
		atts = []store.Attachment{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"attachments": atts})
}

type createSessionRequest struct {
	DocType string `json:"doctype"`
	Name    string `json:"name"`
	Flow    string `json:"flow"`
}

type sessionView struct {
	ID            string                   `json:"id"`
	Mode          signing.Mode             `json:"mode"`
	Flow          string                   `json:"flow"`
	Document      signing.DocumentRef      `json:"document"`
	Title         string                   `json:"title"`
	Prompt        signing.CredentialPrompt `json:"prompt"`
	Banner        string                   `json:"banner,omitempty"`
	State         signing.State            `json:"state"`
	Formats       []string                 `json:"formats"`
	Format        string                   `json:"format,omitempty"`
	Anchors       []signing.Anchor         `json:"anchors"`
	Pages         string                   `json:"pages,omitempty"`
	AllPages      bool                     `json:"all_pages,omitempty"`
	CredentialSet bool                     `json:"credential_set"`
	Progress      *progress                `json:"progress,omitempty"`
	Notices       []notice.Notice          `json:"notices"`
	Artifact      *signing.ArtifactRef     `json:"artifact,omitempty"`
}

func viewOf(e *entry) sessionView {
	sess := e.session
	notices, prog, artifact := e.host.snapshot()
	v := sessionView{
		ID:            sess.ID(),
		Mode:          sess.Mode(),
		Flow:          sess.Flow().String(),
		Document:      sess.Document(),
		Title:         signing.DialogTitle(sess.Mode(), sess.Flow()),
		Prompt:        signing.PromptFor(sess.Mode()),
		State:         sess.State(),
		Formats:       sess.Formats(),
		Format:        sess.Format(),
		Anchors:       sess.Anchors(),
		CredentialSet: sess.CredentialSet(),
		Progress:      prog,
		Notices:       notices,
		Artifact:      artifact,
	}
	if sess.Mode() == signing.ModeUSBToken {
		v.Banner = signing.USBBanner
	}
	if sel, ok := sess.Selection(); ok {
		v.AllPages = sel.All()
		v.Pages = sel.RangeSpec()
	}
	if v.Formats == nil {
		v.Formats = []string{}
	}
	if v.Anchors == nil {
		v.Anchors = []signing.Anchor{}
	}
	return v
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		badRequest(w, "JSON invalido: "+err.Error())
		return
	}
	ref := signing.DocumentRef{DocType: strings.TrimSpace(req.DocType), Name: strings.TrimSpace(req.Name)}
	if ref.DocType == "" || ref.Name == "" {
		badRequest(w, "doctype and name are required")
		return
	}
	flow, err := signing.ParseFlow(req.Flow)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	doc, ok := s.document(w, r, ref)
	if !ok {
		return
	}
	if !doc.Finalized() {
		writeJSON(w, http.StatusConflict, errorResponse{Error: ref.String() + " must be submitted before signing."})
		return
	}

	host := &sessionHost{}
	mode := s.cfg.Mode()
	sess := signing.NewSession(uuid.NewString(), mode, flow, ref, signing.Deps{
		Backend:  s.cfg.Backend,
		Previews: s.cfg.Previews,
		Bus:      s.cfg.Bus,
		Host:     host,
		Invoker:  s.invoker.WithHost(host),
	})
	e := &entry{session: sess, host: host, seen: s.now()}
	if _, err := sess.Open(r.Context()); err != nil {
		sess.Dismiss()
		writeError(w, err)
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = e
	s.mu.Unlock()
	log.Printf("[API] Sesion %s creada doc=%s mode=%s flow=%s", applog.MaskID(sess.ID()), ref, mode, flow)
	writeJSON(w, http.StatusCreated, viewOf(e))
}

func (s *Server) withSession(fn func(w http.ResponseWriter, r *http.Request, e *entry)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := s.lookup(chi.URLParam(r, "id"))
		if !ok {
			notFound(w, "session not found")
			return
		}
		fn(w, r, e)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request, e *entry) {
	writeJSON(w, http.StatusOK, viewOf(e))
}

func (s *Server) handleDismissSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		notFound(w, "session not found")
		return
	}
	e.session.Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectFormat(w http.ResponseWriter, r *http.Request, e *entry) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		badRequest(w, "JSON invalido: "+err.Error())
		return
	}
	if err := e.session.SelectFormat(req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(e))
}

func (s *Server) handleOpenPreview(w http.ResponseWriter, r *http.Request, e *entry) {
	surface, err := e.session.OpenPreview(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"surface": surface.ID(),
		"url":     surface.URL(),
		"session": viewOf(e),
	})
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request, e *entry) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		badRequest(w, "JSON invalido")
		return
	}
	if err := e.session.SetCredential(req.Secret); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(e))
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request, e *entry) {
	var req struct {
		All   bool   `json:"all"`
		Pages string `json:"pages"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		badRequest(w, "JSON invalido: "+err.Error())
		return
	}
	sel := signing.PageRange(req.Pages)
	if req.All {
		sel = signing.AllPages()
	}
	if err := e.session.SetPageSelection(sel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(e))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, e *entry) {
	ref, err := e.session.Confirm(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if e.session.State().Terminal() {
		s.forget(e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifact": ref,
		"notice":   signing.SuccessNotice(e.session.Mode()),
		"session":  viewOf(e),
	})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Mode() != signing.ModeUSBToken {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "USB key signing is not enabled."})
		return
	}
	if s.cfg.Prober == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "PKCS11 support not installed"})
		return
	}
	res := s.cfg.Prober().Probe(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": res,
		"notice": res.Notice(),
	})
}
