// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"digital-signer/pkg/preview"
	"digital-signer/pkg/signing"
)

// Renditions keeps the printed PDF of every document and print format at
// <root>/<doctype>/<name>/<format>.pdf.
type Renditions struct {
	Root string
}

func NewRenditions(root string) *Renditions {
	return &Renditions{Root: root}
}

func (r *Renditions) path(doc signing.DocumentRef, format string) (string, error) {
	parts := []string{doc.DocType, doc.Name, format}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "." || p == ".." {
			return "", fmt.Errorf("nombre invalido en rendicion: %q", parts[i])
		}
		parts[i] = strings.NewReplacer("/", "_", "\\", "_", "\x00", "_").Replace(p)
	}
	return filepath.Join(r.Root, parts[0], parts[1], parts[2]+".pdf"), nil
}

// Load returns the rendition bytes.
func (r *Renditions) Load(doc signing.DocumentRef, format string) ([]byte, error) {
	p, err := r.path(doc, format)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("No printed PDF for %s with print format %q.", doc, format)
		}
		return nil, fmt.Errorf("leer rendicion: %w", err)
	}
	return data, nil
}

// Put stores a rendition, replacing any previous one.
func (r *Renditions) Put(doc signing.DocumentRef, format string, data []byte) error {
	p, err := r.path(doc, format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("crear directorio de rendiciones: %w", err)
	}
	return os.WriteFile(p, data, 0644)
}

func (r *Renditions) RenderPreview(_ context.Context, doc signing.DocumentRef, format string) (preview.Artifact, error) {
	data, err := r.Load(doc, format)
	if err != nil {
		return preview.Artifact{}, err
	}
	return preview.Artifact{Name: doc.Name + ".pdf", Data: data}, nil
}
