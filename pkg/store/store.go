// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

// Package store keeps the host records the signer works against: documents
// with their approval status, the print formats per document type and the
// signed attachments.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("registro no encontrado")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    doc_type    TEXT NOT NULL,
    name        TEXT NOT NULL,
    status      INTEGER NOT NULL DEFAULT 0,
    title       TEXT,
    PRIMARY KEY (doc_type, name)
);

CREATE TABLE IF NOT EXISTS print_formats (
    doc_type    TEXT NOT NULL,
    name        TEXT NOT NULL,
    disabled    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (doc_type, name)
);

CREATE TABLE IF NOT EXISTS attachments (
    id          TEXT PRIMARY KEY,
    doc_type    TEXT NOT NULL,
    doc_name    TEXT NOT NULL,
    file_name   TEXT NOT NULL,
    content     BLOB NOT NULL,
    is_private  INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL,
    FOREIGN KEY (doc_type, doc_name) REFERENCES documents(doc_type, name)
);

CREATE INDEX IF NOT EXISTS idx_attachments_doc ON attachments(doc_type, doc_name, created_at);
`

// Status follows the host framework's docstatus values.
type Status int

const (
	StatusDraft     Status = 0
	StatusSubmitted Status = 1
	StatusCancelled Status = 2
)

type Document struct {
	DocType string `json:"doctype"`
	Name    string `json:"name"`
	Status  Status `json:"docstatus"`
	Title   string `json:"title,omitempty"`
}

// Finalized reports whether the document may be signed.
func (d Document) Finalized() bool { return d.Status == StatusSubmitted }

type PrintFormat struct {
	Name     string `json:"name"`
	DocType  string `json:"doc_type"`
	Disabled bool   `json:"disabled"`
}

type Attachment struct {
	ID        string    `json:"id"`
	DocType   string    `json:"attached_to_doctype"`
	DocName   string    `json:"attached_to_name"`
	FileName  string    `json:"file_name"`
	Content   []byte    `json:"-"`
	IsPrivate bool      `json:"is_private"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) PutDocument(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_type, name, status, title) VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_type, name) DO UPDATE SET status = excluded.status, title = excluded.title`,
		d.DocType, d.Name, int(d.Status), d.Title)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, docType, name string) (Document, error) {
	d := Document{DocType: docType, Name: name}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT status, title FROM documents WHERE doc_type = ? AND name = ?`, docType, name,
	).Scan(&d.Status, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%s %s: %w", docType, name, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	d.Title = title.String
	return d, nil
}

func (s *Store) PutPrintFormat(ctx context.Context, pf PrintFormat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO print_formats (doc_type, name, disabled) VALUES (?, ?, ?)
		ON CONFLICT(doc_type, name) DO UPDATE SET disabled = excluded.disabled`,
		pf.DocType, pf.Name, pf.Disabled)
	if err != nil {
		return fmt.Errorf("put print format: %w", err)
	}
	return nil
}

// EnabledPrintFormats lists the names of the non-disabled formats of docType.
func (s *Store) EnabledPrintFormats(ctx context.Context, docType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM print_formats WHERE doc_type = ? AND disabled = 0 ORDER BY name`, docType)
	if err != nil {
		return nil, fmt.Errorf("list print formats: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan print format: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AddAttachment stores a file on a document and returns it with its new id.
func (s *Store) AddAttachment(ctx context.Context, a Attachment) (Attachment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, doc_type, doc_name, file_name, content, is_private, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DocType, a.DocName, a.FileName, a.Content, a.IsPrivate, a.CreatedAt.UnixNano())
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return a, nil
}

func (s *Store) GetAttachment(ctx context.Context, id string) (Attachment, error) {
	var (
		a  Attachment
		ns int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, doc_type, doc_name, file_name, content, is_private, created_at
		FROM attachments WHERE id = ?`, id,
	).Scan(&a.ID, &a.DocType, &a.DocName, &a.FileName, &a.Content, &a.IsPrivate, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return Attachment{}, fmt.Errorf("attachment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	a.CreatedAt = time.Unix(0, ns).UTC()
	return a, nil
}

// Attachments lists a document's attachments without their content, oldest first.
func (s *Store) Attachments(ctx context.Context, docType, docName string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, is_private, created_at FROM attachments
		WHERE doc_type = ? AND doc_name = ? ORDER BY created_at, id`, docType, docName)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		a := Attachment{DocType: docType, DocName: docName}
		var ns int64
		if err := rows.Scan(&a.ID, &a.FileName, &a.IsPrivate, &ns); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.CreatedAt = time.Unix(0, ns).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
