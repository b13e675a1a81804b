// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"digital-signer/pkg/applog"
	"digital-signer/pkg/config"
	"digital-signer/pkg/preview"
	"digital-signer/pkg/signing"
	"digital-signer/pkg/store"
	"digital-signer/pkg/usbprobe"
)

// Local serves the backend operations from the SQLite store and the
// renditions directory on this machine.
type Local struct {
	store      *store.Store
	renditions *Renditions
	settings   func() config.SigningConfig
}

// New builds a Local backend. settings is read on every call so a config
// reload takes effect on the next signature.
func New(st *store.Store, r *Renditions, settings func() config.SigningConfig) *Local {
	return &Local{store: st, renditions: r, settings: settings}
}

func (l *Local) ListPrintFormats(ctx context.Context, docType string) ([]string, error) {
	return l.store.EnabledPrintFormats(ctx, docType)
}

func (l *Local) RenderPreview(ctx context.Context, doc signing.DocumentRef, format string) (preview.Artifact, error) {
	return l.renditions.RenderPreview(ctx, doc, format)
}

var unlockKey = func(src KeySource, secret string) (*Key, error) {
	return src.Unlock(secret)
}

// keySource picks where the signing key lives for mode.
func (l *Local) keySource(mode signing.Mode, cfg config.SigningConfig) KeySource {
	if mode == signing.ModeUSBToken {
		return TokenSource{
			Library:   usbprobe.ResolveModule(cfg.PKCS11Library),
			Slot:      cfg.USBSlot,
			CertLabel: cfg.USBCertLabel,
		}
	}
	if !cfg.UsePFX {
		return CertKeySource{CertPath: cfg.CertPath, KeyPath: cfg.KeyPath}
	}
	return PFXSource{Path: cfg.PFXPath}
}

func (l *Local) Sign(ctx context.Context, req signing.SignRequest) (signing.ArtifactRef, error) {
	cfg := l.settings()

	doc, err := l.store.GetDocument(ctx, req.Document.DocType, req.Document.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return signing.ArtifactRef{}, fmt.Errorf("%s not found.", req.Document)
		}
		return signing.ArtifactRef{}, err
	}
	if !doc.Finalized() {
		return signing.ArtifactRef{}, fmt.Errorf("%s must be submitted before signing.", req.Document)
	}

	format := req.PrintFormat
	if format == "" {
		format = "Standard"
	}
	enabled, err := l.store.EnabledPrintFormats(ctx, req.Document.DocType)
	if err != nil {
		return signing.ArtifactRef{}, err
	}
	if !slices.Contains(enabled, format) {
		return signing.ArtifactRef{}, fmt.Errorf("Print format %q is not enabled for %s.", format, req.Document.DocType)
	}
	pdfData, err := l.renditions.Load(req.Document, format)
	if err != nil {
		return signing.ArtifactRef{}, err
	}
	numPages, err := PageCount(pdfData)
	if err != nil {
		return signing.ArtifactRef{}, err
	}
	placements, err := Placements(req.Location, numPages, Box{
		DefaultX: cfg.DefaultX,
		DefaultY: cfg.DefaultY,
		Width:    cfg.BoxWidth,
		Height:   cfg.BoxHeight,
	})
	if err != nil {
		return signing.ArtifactRef{}, err
	}

	log.Printf("[Backend] Firmando %s doc=%s formato=%q marcas=%d credential_set=%t",
		req.Mode, applog.MaskID(req.Document.String()), format, len(placements), !req.Credential.Empty())

	var signed []byte
	err = req.Credential.Use(func(secret string) error {
		key, err := unlockKey(l.keySource(req.Mode, cfg), secret)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := key.Close(); cerr != nil {
				log.Printf("[Backend] Error cerrando sesion del token: %v", cerr)
			}
		}()
		signed, err = SignPlacements(pdfData, key, placements, Metadata{
			Name:        cfg.SignerName,
			Reason:      "Digitally signed on " + req.Document.DocType,
			Location:    cfg.Location,
			ContactInfo: cfg.ContactInfo,
		})
		return err
	})
	if err != nil {
		return signing.ArtifactRef{}, err
	}

	att, err := l.store.AddAttachment(ctx, store.Attachment{
		DocType:   req.Document.DocType,
		DocName:   req.Document.Name,
		FileName:  req.Document.Name + "-signed.pdf",
		Content:   signed,
		IsPrivate: true,
	})
	if err != nil {
		return signing.ArtifactRef{}, err
	}
	log.Printf("[Backend] Adjunto %s guardado (%s)", att.FileName, applog.BytesMeta("pdf", signed))
	return signing.ArtifactRef{ID: att.ID, FileName: att.FileName}, nil
}
