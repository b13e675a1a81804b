// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package signing

import (
	"context"
	"fmt"
	"log"
	"sync"

	"digital-signer/pkg/applog"
	"digital-signer/pkg/metrics"
	"digital-signer/pkg/notice"
	"digital-signer/pkg/transport"
)

type State int

const (
	StateIdle State = iota
	StateFormatSelected
	StatePreviewing
	StateCapturing
	StateReady
	StateSigning
	StateDone
	// StateFailed is only observed in logs; a failed call returns to StateReady.
	StateFailed
	StateDismissed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFormatSelected:
		return "format_selected"
	case StatePreviewing:
		return "previewing"
	case StateCapturing:
		return "capturing_locations"
	case StateReady:
		return "ready"
	case StateSigning:
		return "signing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateDismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the session has released its resources.
func (s State) Terminal() bool {
	return s == StateDone || s == StateDismissed
}

// PreviewSurface is one opened rendering of the document.
type PreviewSurface interface {
	ID() string
	URL() string
	Close() error
}

// PreviewOpener opens an isolated rendering surface for a document.
type PreviewOpener interface {
	Open(ctx context.Context, doc DocumentRef, format string, mode Mode) (PreviewSurface, error)
}

type Deps struct {
	Backend  Backend
	Previews PreviewOpener
	Bus      *transport.Bus
	Host     Host
	Invoker  *Invoker
}

// Session is one signing dialog. All capture-phase mutation goes through
// the session; the transport handler only appends anchors.
type Session struct {
	id   string
	mode Mode
	flow Flow
	doc  DocumentRef
	deps Deps

	mu         sync.Mutex
	state      State
	formats    []string
	format     string
	credential *Credential
	anchors    []Anchor
	selection  *PageSelection
	sub        *transport.Subscription
	surfaces   []PreviewSurface
	lastErr    error
	released   bool
}

func NewSession(id string, mode Mode, flow Flow, doc DocumentRef, deps Deps) *Session {
	if deps.Invoker == nil {
		deps.Invoker = NewInvoker(deps.Backend, deps.Host, 0)
	}
	metrics.SessionOpened()
	return &Session{id: id, mode: mode, flow: flow, doc: doc, deps: deps}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Mode() Mode            { return s.mode }
func (s *Session) Flow() Flow            { return s.flow }
func (s *Session) Document() DocumentRef { return s.doc }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Anchors returns a copy of the captured anchors in capture order.
func (s *Session) Anchors() []Anchor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Anchor(nil), s.anchors...)
}

func (s *Session) Format() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

func (s *Session) Formats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.formats...)
}

func (s *Session) Selection() (PageSelection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return PageSelection{}, false
	}
	return *s.selection, true
}

func (s *Session) CredentialSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.credential.Empty()
}

// LastError is the most recent failure surfaced by this session.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Open loads the enabled print formats for the document type.
func (s *Session) Open(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return nil, s.fail(&Error{Kind: KindValidation, Message: fmt.Sprintf("Session already opened (state %s).", st)})
	}
	s.mu.Unlock()

	formats, err := s.deps.Backend.ListPrintFormats(ctx, s.doc.DocType)
	if err != nil {
		return nil, s.fail(&Error{Kind: KindBackend, Message: err.Error(), Err: err})
	}
	if len(formats) == 0 {
		return nil, s.fail(&Error{Kind: KindConfiguration, Message: fmt.Sprintf("No print formats found for %s.", s.doc.DocType)})
	}

	s.mu.Lock()
	s.formats = append([]string(nil), formats...)
	s.mu.Unlock()
	log.Printf("[Session] %s opened doc=%s mode=%s flow=%s formats=%d", applog.MaskID(s.id), s.doc, s.mode, s.flow, len(formats))
	return formats, nil
}

// SelectFormat picks one of the formats returned by Open.
func (s *Session) SelectFormat(name string) error {
	s.mu.Lock()
	if len(s.formats) == 0 {
		s.mu.Unlock()
		return s.fail(&Error{Kind: KindValidation, Message: "Print formats have not been loaded."})
	}
	switch {
	case s.state == StateIdle, s.state == StateFormatSelected:
	case s.flow == FlowPages && s.state == StateReady:
	default:
		st := s.state
		s.mu.Unlock()
		return s.fail(&Error{Kind: KindValidation, Message: fmt.Sprintf("Print format cannot change in state %s.", st)})
	}
	if !contains(s.formats, name) {
		s.mu.Unlock()
		return s.fail(&Error{Kind: KindValidation, Message: "Please select a print format."})
	}
	s.format = name
	if s.state == StateIdle {
		s.state = StateFormatSelected
	}
	s.advanceLocked()
	s.mu.Unlock()
	log.Printf("[Session] %s format=%q", applog.MaskID(s.id), name)
	return nil
}

// OpenPreview opens a rendering surface and binds it to this session's
// transport subscription. More than one surface may be opened; all feed the
// same anchor list.
func (s *Session) OpenPreview(ctx context.Context) (PreviewSurface, error) {
	s.mu.Lock()
	if s.flow != FlowLocation {
		s.mu.Unlock()
		return nil, s.fail(&Error{Kind: KindValidation, Message: "Preview is only available when choosing signature locations."})
	}
	if s.format == "" {
		s.mu.Unlock()
		return nil, s.fail(&Error{Kind: KindValidation, Message: "Please select a print format."})
	}
	switch s.state {
	case StateFormatSelected, StatePreviewing, StateCapturing, StateReady:
	default:
		st := s.state
		s.mu.Unlock()
		return nil, s.fail(&Error{Kind: KindValidation, Message: fmt.Sprintf("Cannot open a preview in state %s.", st)})
	}
	if s.sub == nil {
		s.sub = s.deps.Bus.Subscribe(s.onLocation)
	}
	sub, format := s.sub, s.format
	s.mu.Unlock()

	surface, err := s.deps.Previews.Open(ctx, s.doc, format, s.mode)
	if err != nil {
		return nil, s.fail(&Error{Kind: KindBackend, Message: err.Error(), Err: err})
	}
	if err := sub.Allow(surface.ID()); err != nil {
		// Dismissed while the surface was being opened.
		_ = surface.Close()
		return nil, s.fail(&Error{Kind: KindValidation, Message: "The signing dialog was closed.", Err: err})
	}

	s.mu.Lock()
	s.surfaces = append(s.surfaces, surface)
	if s.state == StateFormatSelected {
		s.state = StatePreviewing
	}
	s.mu.Unlock()
	log.Printf("[Session] %s preview surface=%s url=%s", applog.MaskID(s.id), applog.MaskID(surface.ID()), applog.SanitizeURI(surface.URL()))
	return surface, nil
}

func (s *Session) onLocation(source string, m transport.Message) {
	a, err := NewAnchor(m.Page, m.X, m.Y)
	if err != nil {
		log.Printf("[Session] %s discarded anchor from surface=%s: %v", applog.MaskID(s.id), applog.MaskID(source), err)
		return
	}

	s.mu.Lock()
	switch s.state {
	case StatePreviewing, StateCapturing, StateReady, StateSigning:
	default:
		st := s.state
		s.mu.Unlock()
		log.Printf("[Session] %s ignored anchor in state %s", applog.MaskID(s.id), st)
		return
	}
	s.anchors = append(s.anchors, a)
	count := len(s.anchors)
	s.advanceLocked()
	s.mu.Unlock()

	metrics.RecordAnchor()
	log.Printf("[Session] %s anchor #%d %s", applog.MaskID(s.id), count, a)
	s.deps.Host.Notify(notice.Info("Signature Location", "Signature location added: "+a.String()))
}

// SetCredential replaces the password or PIN for the next confirmation.
func (s *Session) SetCredential(secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.state == StateSigning {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("Cannot enter a credential in state %s.", s.state)}
	}
	s.credential.Wipe()
	s.credential = nil
	if secret != "" {
		s.credential = NewCredential(secret)
	}
	s.advanceLocked()
	return nil
}

// SetPageSelection records the all-pages or page-range choice.
func (s *Session) SetPageSelection(sel PageSelection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flow != FlowPages {
		return &Error{Kind: KindValidation, Message: "Page selection is only available when signing without a preview."}
	}
	if s.state != StateFormatSelected && s.state != StateReady {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("Cannot change page selection in state %s.", s.state)}
	}
	if err := sel.validate(); err != nil {
		return err
	}
	s.selection = &sel
	s.advanceLocked()
	return nil
}

// advanceLocked applies the automatic readiness transitions.
func (s *Session) advanceLocked() {
	hasCred := !s.credential.Empty()
	switch s.flow {
	case FlowLocation:
		switch s.state {
		case StatePreviewing, StateCapturing, StateReady:
			switch {
			case len(s.anchors) > 0 && hasCred:
				s.state = StateReady
			case len(s.anchors) > 0:
				s.state = StateCapturing
			default:
				s.state = StatePreviewing
			}
		}
	case FlowPages:
		switch s.state {
		case StateFormatSelected, StateReady:
			if s.selection != nil && hasCred {
				s.state = StateReady
			} else {
				s.state = StateFormatSelected
			}
		}
	}
}

// Confirm issues exactly one sign call with the current anchors or page
// selection. Validation failures never reach the backend.
func (s *Session) Confirm(ctx context.Context) (ArtifactRef, error) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == StateSigning || s.state == StateIdle {
		st := s.state
		s.mu.Unlock()
		return ArtifactRef{}, s.fail(&Error{Kind: KindValidation, Message: fmt.Sprintf("Cannot sign in state %s.", st)})
	}
	if s.format == "" {
		s.mu.Unlock()
		return ArtifactRef{}, s.fail(&Error{Kind: KindValidation, Message: "Please select a print format."})
	}

	var payload LocationPayload
	if s.flow == FlowPages {
		if s.selection == nil {
			s.mu.Unlock()
			return ArtifactRef{}, s.fail(PageSelection{}.validate())
		}
		payload = *s.selection
	} else {
		payload = AnchorList(append([]Anchor(nil), s.anchors...))
	}
	if err := payload.validate(); err != nil {
		s.mu.Unlock()
		return ArtifactRef{}, s.fail(err)
	}
	if s.credential.Empty() {
		s.mu.Unlock()
		return ArtifactRef{}, s.fail(missingCredential(s.mode))
	}

	cred := s.credential
	s.credential = nil
	s.state = StateSigning
	format := s.format
	s.mu.Unlock()

	log.Printf("[Session] %s confirm format=%q", applog.MaskID(s.id), format)
	ref, err := s.deps.Invoker.Invoke(ctx, SignRequest{
		Mode:        s.mode,
		Document:    s.doc,
		PrintFormat: format,
		Credential:  cred,
		Location:    payload,
	})

	s.mu.Lock()
	dismissed := s.state == StateDismissed
	if err != nil {
		s.lastErr = err
		if !dismissed {
			log.Printf("[Session] %s %s -> %s -> %s", applog.MaskID(s.id), StateSigning, StateFailed, StateReady)
			s.state = StateReady
		}
		s.mu.Unlock()
		s.deps.Host.Notify(NoticeFor(err))
		return ArtifactRef{}, err
	}
	if !dismissed {
		s.state = StateDone
	}
	s.mu.Unlock()

	s.release()
	s.deps.Host.ReloadRecord(s.doc, ref)
	s.deps.Host.Notify(SuccessNotice(s.mode))
	return ref, nil
}

// Dismiss destroys the session. Safe to call in any state and more than once.
func (s *Session) Dismiss() {
	s.mu.Lock()
	if s.state != StateDone {
		s.state = StateDismissed
	}
	s.mu.Unlock()
	s.release()
}

// release unsubscribes from the transport, closes every preview surface and
// wipes any pending credential. It runs at most once.
func (s *Session) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	sub := s.sub
	surfaces := s.surfaces
	s.surfaces = nil
	s.credential.Wipe()
	s.credential = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	for _, surface := range surfaces {
		if err := surface.Close(); err != nil {
			log.Printf("[Session] %s error cerrando preview %s: %v", applog.MaskID(s.id), applog.MaskID(surface.ID()), err)
		}
	}
	metrics.SessionClosed()
	log.Printf("[Session] %s released", applog.MaskID(s.id))
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.deps.Host.Notify(NoticeFor(err))
	return err
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
