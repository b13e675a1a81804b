// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package signing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Anchor is a visible signature position in document space (origin at the
// bottom-left corner of the page). Fields are unexported so an anchor cannot
// change after it is captured.
type Anchor struct {
	page int
	x    int
	y    int
}

func NewAnchor(page, x, y int) (Anchor, error) {
	if page < 1 {
		return Anchor{}, fmt.Errorf("pagina invalida: %d", page)
	}
	return Anchor{page: page, x: x, y: y}, nil
}

func (a Anchor) Page() int { return a.page }
func (a Anchor) X() int    { return a.x }
func (a Anchor) Y() int    { return a.y }

func (a Anchor) String() string {
	return fmt.Sprintf("Page %d, X: %d, Y: %d", a.page, a.x, a.y)
}

type anchorJSON struct {
	Page int `json:"page"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

func (a Anchor) MarshalJSON() ([]byte, error) {
	return json.Marshal(anchorJSON{Page: a.page, X: a.x, Y: a.y})
}

func (a *Anchor) UnmarshalJSON(b []byte) error {
	var raw anchorJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := NewAnchor(raw.Page, raw.X, raw.Y)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DocumentRef identifies the host record being signed.
type DocumentRef struct {
	DocType string `json:"doctype"`
	Name    string `json:"name"`
}

func (d DocumentRef) String() string {
	return d.DocType + "/" + d.Name
}

// PageSelection is the location-agnostic choice: every page, or a range
// such as "1,3-5". Exactly one of the two is set.
type PageSelection struct {
	all   bool
	pages string
}

func AllPages() PageSelection { return PageSelection{all: true} }

func PageRange(r string) PageSelection { return PageSelection{pages: strings.TrimSpace(r)} }

func (p PageSelection) All() bool         { return p.all }
func (p PageSelection) RangeSpec() string { return p.pages }

func (p PageSelection) validate() error {
	if !p.all && p.pages == "" {
		return &Error{Kind: KindValidation, Message: "Please select all pages or enter a page range."}
	}
	return nil
}

// LocationPayload is what the sign call receives about where to place marks.
// It is a closed union: either a PageSelection or an ordered anchor list.
type LocationPayload interface {
	isLocationPayload()
	validate() error
}

// AnchorList keeps capture order; duplicates are intentional.
type AnchorList []Anchor

func (PageSelection) isLocationPayload() {}
func (AnchorList) isLocationPayload()    {}

func (l AnchorList) validate() error {
	if len(l) == 0 {
		return &Error{Kind: KindValidation, Message: "Please select at least one signature location."}
	}
	return nil
}

// ArtifactRef points at the signed rendition attached to the host record.
type ArtifactRef struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
}

// SignRequest is handed to the backend once per confirmation.
type SignRequest struct {
	Mode        Mode
	Document    DocumentRef
	PrintFormat string
	Credential  *Credential
	Location    LocationPayload
}
