// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package preview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"digital-signer/pkg/applog"
	"digital-signer/pkg/transport"
)

const clickSchemaURL = "https://digital-signer.local/schemas/preview-click.json"

const clickSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "page", "x", "y"],
  "additionalProperties": false,
  "properties": {
    "type": {"const": "click"},
    "page": {"type": "integer", "minimum": 1},
    "x": {"type": "number", "minimum": 0},
    "y": {"type": "number", "minimum": 0},
    "height": {"type": "number", "minimum": 0}
  }
}`

// ClickEvent is what the preview page sends for a click on a page canvas,
// in pixels relative to that canvas.
type ClickEvent struct {
	Type   string  `json:"type"`
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Height float64 `json:"height,omitempty"`
}

// Reply is written back for every message received from the page.
type Reply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

var (
	clickOnce     sync.Once
	clickCompiled *jsonschema.Schema
	clickErr      error
)

func compiledClickSchema() (*jsonschema.Schema, error) {
	clickOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(clickSchemaURL, strings.NewReader(clickSchema)); err != nil {
			clickErr = err
			return
		}
		clickCompiled, clickErr = c.Compile(clickSchemaURL)
	})
	return clickCompiled, clickErr
}

var upgrader = websocket.Upgrader{
	// Only loopback peers get this far; the page is served from the same host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the preview page, its PDF and the click channel:
//
//	GET  /{id}?token=      page
//	GET  /{id}/pdf?token=  rendition
//	GET  /{id}/ws?token=   websocket click channel
//	POST /{id}/click?token=
func (r *Renderer) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/{id}", r.handlePage)
	mux.Get("/{id}/pdf", r.handlePDF)
	mux.Get("/{id}/ws", r.handleSocket)
	mux.Post("/{id}/click", r.handleClick)
	return mux
}

func (r *Renderer) authorize(w http.ResponseWriter, req *http.Request) (*Surface, bool) {
	s, ok := r.Lookup(chi.URLParam(req, "id"))
	if !ok {
		http.Error(w, "preview no disponible", http.StatusNotFound)
		return nil, false
	}
	if !s.tokenValid(strings.TrimSpace(req.URL.Query().Get("token"))) {
		log.Printf("[Preview] Rejected request %s", applog.SanitizeURI(req.URL.String()))
		http.Error(w, "token invalido", http.StatusUnauthorized)
		return nil, false
	}
	return s, true
}

func (r *Renderer) handlePage(w http.ResponseWriter, req *http.Request) {
	s, ok := r.authorize(w, req)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := renderPage(w, s, r.opts.PDFJSURL); err != nil {
		log.Printf("[Preview] Page render error: %v", err)
	}
}

func (r *Renderer) handlePDF(w http.ResponseWriter, req *http.Request) {
	s, ok := r.authorize(w, req)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, req, s.name, time.Time{}, bytes.NewReader(s.pdf))
}

func (r *Renderer) handleClick(w http.ResponseWriter, req *http.Request) {
	if !isLoopbackRemoteAddr(req.RemoteAddr) {
		http.Error(w, "peticion externa no permitida", http.StatusForbidden)
		return
	}
	s, ok := r.authorize(w, req)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, req.Body, 4096)); err != nil {
		http.Error(w, "cuerpo invalido", http.StatusBadRequest)
		return
	}
	reply := s.handleMessage(buf.Bytes())
	w.Header().Set("Content-Type", "application/json")
	if !reply.OK {
		w.WriteHeader(http.StatusBadRequest)
	}
	_ = json.NewEncoder(w).Encode(reply)
}

func (r *Renderer) handleSocket(w http.ResponseWriter, req *http.Request) {
	if !isLoopbackRemoteAddr(req.RemoteAddr) {
		http.Error(w, "peticion externa no permitida", http.StatusForbidden)
		log.Printf("[Preview] Rejected external remote addr: %s", req.RemoteAddr)
		return
	}
	s, ok := r.authorize(w, req)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("[Preview] Upgrade error: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("[Preview] Client connected surface=%s", applog.MaskID(s.id))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
			case websocket.IsCloseError(err, websocket.CloseAbnormalClosure) || strings.Contains(strings.ToLower(err.Error()), "unexpected eof"):
				log.Printf("[Preview] Client disconnected abruptly surface=%s", applog.MaskID(s.id))
			default:
				log.Printf("[Preview] Read error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(s.handleMessage(message)); err != nil {
			log.Printf("[Preview] Write error: %v", err)
			return
		}
		if s.isClosed() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "preview closed"))
			return
		}
	}
}

// handleMessage accepts either a pixel click or a ready-made
// signature_location message.
func (s *Surface) handleMessage(raw []byte) Reply {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Reply{Error: "json invalido"}
	}

	var (
		ack string
		err error
	)
	switch envelope.Type {
	case "click":
		var ev ClickEvent
		ev, err = decodeClick(raw)
		if err == nil {
			ack, err = s.Click(ev.Page, ev.X, ev.Y, ev.Height)
		}
	case transport.MessageType:
		var m transport.Message
		m, err = transport.Decode(raw)
		if err == nil {
			ack, err = s.Deliver(m)
		}
	default:
		err = fmt.Errorf("tipo de mensaje no soportado: %q", envelope.Type)
	}
	if err != nil {
		log.Printf("[Preview] Message rejected surface=%s: %v", applog.MaskID(s.id), err)
		return Reply{Error: err.Error()}
	}
	return Reply{OK: true, Message: ack}
}

func decodeClick(raw []byte) (ClickEvent, error) {
	schema, err := compiledClickSchema()
	if err != nil {
		return ClickEvent{}, err
	}
	var instance interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return ClickEvent{}, err
	}
	if err := schema.Validate(instance); err != nil {
		return ClickEvent{}, fmt.Errorf("click invalido: %w", err)
	}
	var ev ClickEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ClickEvent{}, err
	}
	return ev, nil
}

func isLoopbackRemoteAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(host), "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
