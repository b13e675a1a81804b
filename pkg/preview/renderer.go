// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

// Package preview opens per-session rendering surfaces of a document and turns
// clicks on their pages into signature anchors on the coordinate transport.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"digital-signer/pkg/applog"
	"digital-signer/pkg/signing"
	"digital-signer/pkg/transport"
)

var ErrSurfaceClosed = errors.New("preview cerrado")

// Artifact is a rendered document ready to be shown.
type Artifact struct {
	Name string
	Data []byte
}

// Source produces the rendition a surface displays.
type Source interface {
	RenderPreview(ctx context.Context, doc signing.DocumentRef, format string) (Artifact, error)
}

type Options struct {
	Scale float64
	// BaseURL is where Handler is mounted, e.g. http://127.0.0.1:8765/preview.
	BaseURL  string
	PDFJSURL string
}

// Renderer implements signing.PreviewOpener.
type Renderer struct {
	source Source
	bus    *transport.Bus
	opts   Options

	mu       sync.RWMutex
	surfaces map[string]*Surface
}

func NewRenderer(src Source, bus *transport.Bus, opts Options) *Renderer {
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Renderer{
		source:   src,
		bus:      bus,
		opts:     opts,
		surfaces: make(map[string]*Surface),
	}
}

func (r *Renderer) Open(ctx context.Context, doc signing.DocumentRef, format string, mode signing.Mode) (signing.PreviewSurface, error) {
	art, err := r.source.RenderPreview(ctx, doc, format)
	if err != nil {
		return nil, err
	}
	pages, err := ReadGeometry(bytes.NewReader(art.Data), int64(len(art.Data)))
	if err != nil {
		return nil, err
	}

	s := &Surface{
		id:       uuid.NewString(),
		token:    uuid.NewString(),
		doc:      doc,
		format:   format,
		mode:     mode,
		name:     art.Name,
		pdf:      art.Data,
		pages:    pages,
		renderer: r,
	}
	r.mu.Lock()
	r.surfaces[s.id] = s
	r.mu.Unlock()
	log.Printf("[Preview] Opened surface=%s doc=%s format=%q pages=%d %s",
		applog.MaskID(s.id), doc, format, len(pages), applog.BytesMeta("pdf", art.Data))
	return s, nil
}

// Lookup returns an open surface by id.
func (r *Renderer) Lookup(id string) (*Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[id]
	return s, ok
}

// Open surfaces count; a session that forgot to close its previews shows here.
func (r *Renderer) Surfaces() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.surfaces)
}

func (r *Renderer) remove(id string) {
	r.mu.Lock()
	delete(r.surfaces, id)
	r.mu.Unlock()
}

// Surface is one opened rendering. Its id is the transport source every
// anchor it emits is tagged with.
type Surface struct {
	id     string
	token  string
	doc    signing.DocumentRef
	format string
	mode   signing.Mode
	name   string
	pdf    []byte
	pages  []PageSize

	renderer *Renderer

	mu     sync.Mutex
	closed bool
}

func (s *Surface) ID() string { return s.id }

func (s *Surface) URL() string {
	q := url.Values{}
	q.Set("token", s.token)
	return s.renderer.opts.BaseURL + "/" + s.id + "?" + q.Encode()
}

func (s *Surface) Pages() []PageSize { return append([]PageSize(nil), s.pages...) }

func (s *Surface) Scale() float64 { return s.renderer.opts.Scale }

func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.renderer.remove(s.id)
	log.Printf("[Preview] Closed surface=%s", applog.MaskID(s.id))
	return nil
}

func (s *Surface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Surface) tokenValid(token string) bool {
	return token != "" && token == s.token && !s.isClosed()
}

// Click converts a click on a rendered page and emits the anchor. heightPx is
// the page's rendered height; zero uses the page box at the surface scale.
// The returned text acknowledges the captured position to the user.
func (s *Surface) Click(page int, clickX, clickY, heightPx float64) (string, error) {
	if s.isClosed() {
		return "", ErrSurfaceClosed
	}
	if err := s.checkPage(page); err != nil {
		return "", err
	}
	if heightPx <= 0 {
		heightPx = s.pages[page-1].HeightPt * s.Scale()
	}
	x, y := ToDocumentSpace(clickX, clickY, heightPx, s.Scale())
	return s.emit(transport.NewMessage(page, x, y))
}

// Deliver emits an anchor already expressed in document space.
func (s *Surface) Deliver(m transport.Message) (string, error) {
	if s.isClosed() {
		return "", ErrSurfaceClosed
	}
	if err := s.checkPage(m.Page); err != nil {
		return "", err
	}
	return s.emit(m)
}

func (s *Surface) emit(m transport.Message) (string, error) {
	if err := s.renderer.bus.Publish(s.id, m); err != nil {
		return "", err
	}
	return Acknowledgement(m.X, m.Y), nil
}

func (s *Surface) checkPage(page int) error {
	if page < 1 || page > len(s.pages) {
		return fmt.Errorf("Page number %d is out of range.", page)
	}
	return nil
}

func Acknowledgement(x, y int) string {
	return fmt.Sprintf("Signature location captured at X: %d, Y: %d. You can select more or close this window.", x, y)
}
