// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package signing

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"digital-signer/pkg/metrics"
	"digital-signer/pkg/notice"
)

// Backend is the document side of a signing session: format listing and the
// sign call itself. Credential failures must wrap ErrCredentialRejected and a
// missing token must wrap ErrTokenUnavailable.
type Backend interface {
	ListPrintFormats(ctx context.Context, docType string) ([]string, error)
	Sign(ctx context.Context, req SignRequest) (ArtifactRef, error)
}

// Host is the record view that owns the dialog.
type Host interface {
	Notify(n notice.Notice)
	ShowProgress(title, message string)
	HideProgress()
	ReloadRecord(doc DocumentRef, ref ArtifactRef)
}

const (
	progressTitle   = "Signing with USB Key"
	progressMessage = "Communicating with USB security key..."
)

// Invoker performs one backend sign call and classifies its outcome.
type Invoker struct {
	backend Backend
	host    Host
	// limiter spaces out hardware-token attempts so a user hammering retry
	// cannot burn through the token's PIN counter.
	limiter *rate.Limiter
}

// NewInvoker builds an invoker. usbInterval is the minimum spacing between
// two hardware-token sign calls; zero disables throttling.
func NewInvoker(b Backend, h Host, usbInterval time.Duration) *Invoker {
	limit := rate.Inf
	if usbInterval > 0 {
		limit = rate.Every(usbInterval)
	}
	return &Invoker{backend: b, host: h, limiter: rate.NewLimiter(limit, 1)}
}

// WithHost returns an invoker reporting to h that shares the backend and
// the hardware-token limiter with iv.
func (iv *Invoker) WithHost(h Host) *Invoker {
	return &Invoker{backend: iv.backend, host: h, limiter: iv.limiter}
}

// Invoke runs req against the backend. The credential is wiped before
// Invoke returns, whatever the outcome. Returned errors are always *Error.
func (iv *Invoker) Invoke(ctx context.Context, req SignRequest) (ArtifactRef, error) {
	defer req.Credential.Wipe()

	if req.Location == nil {
		return ArtifactRef{}, &Error{Kind: KindValidation, Message: "Please select where the signature should be placed."}
	}
	if err := req.Location.validate(); err != nil {
		return ArtifactRef{}, err
	}
	if req.Credential.Empty() {
		return ArtifactRef{}, missingCredential(req.Mode)
	}

	flow := flowOf(req.Location)
	if req.Mode == ModeUSBToken {
		if err := iv.limiter.Wait(ctx); err != nil {
			return ArtifactRef{}, &Error{Kind: KindBackend, Message: "Signing cancelled before contacting the USB security key.", Err: err}
		}
		iv.host.ShowProgress(progressTitle, progressMessage)
		defer iv.host.HideProgress()
	}

	log.Printf("[Invoker] Sign start doc=%s format=%q mode=%s flow=%s credential_set=true",
		req.Document, req.PrintFormat, req.Mode, flow)
	start := time.Now()
	ref, err := iv.backend.Sign(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		se := classify(req.Mode, err)
		log.Printf("[Invoker] Sign failed doc=%s kind=%s lockout=%v elapsed=%s err=%v",
			req.Document, se.Kind, se.Lockout, elapsed, err)
		metrics.RecordSign(req.Mode.String(), flow.String(), se.Kind.String(), elapsed)
		return ArtifactRef{}, se
	}
	log.Printf("[Invoker] Sign ok doc=%s artifact=%s elapsed=%s", req.Document, ref.FileName, elapsed)
	metrics.RecordSign(req.Mode.String(), flow.String(), metrics.OutcomeSuccess, elapsed)
	return ref, nil
}

func missingCredential(m Mode) *Error {
	if m == ModeUSBToken {
		return &Error{Kind: KindValidation, Message: "Please enter your USB key PIN."}
	}
	return &Error{Kind: KindValidation, Message: "Please enter the PFX password."}
}

func flowOf(p LocationPayload) Flow {
	if _, ok := p.(PageSelection); ok {
		return FlowPages
	}
	return FlowLocation
}

// SuccessNotice is shown once per successful sign call.
func SuccessNotice(m Mode) notice.Notice {
	if m == ModeUSBToken {
		return notice.Info("Success", "PDF signed with USB security key and attached successfully!")
	}
	return notice.Info("Success", "Signed PDF attached successfully!")
}
