// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package backend

import (
	"bytes"
	"crypto"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/digitorus/pdf"
	pdfsign "github.com/digitorus/pdfsign/sign"

	"digital-signer/pkg/signing"
)

// Box is the visible signature rectangle size and the position used when
// the user did not click a location.
type Box struct {
	DefaultX float64
	DefaultY float64
	Width    float64
	Height   float64
}

// Placement is one visible signature: a 1-based page and the rectangle
// [llx, lly, urx, ury] in points.
type Placement struct {
	Page  int
	Field string
	Rect  [4]float64
}

// Metadata goes into the signature dictionary of every placement.
type Metadata struct {
	Name        string
	Reason      string
	Location    string
	ContactInfo string
}

// Placements turns the location payload into one placement per mark, in
// order. Pages must lie in 1..numPages.
func Placements(loc signing.LocationPayload, numPages int, box Box) ([]Placement, error) {
	var pages []int
	var points [][2]float64

	switch v := loc.(type) {
	case signing.AnchorList:
		for _, a := range v {
			pages = append(pages, a.Page())
			points = append(points, [2]float64{float64(a.X()), float64(a.Y())})
		}
	case signing.PageSelection:
		if v.All() {
			for p := 1; p <= numPages; p++ {
				pages = append(pages, p)
			}
		} else {
			parsed, err := ParsePageRange(v.RangeSpec())
			if err != nil {
				return nil, err
			}
			pages = parsed
		}
		for range pages {
			points = append(points, [2]float64{box.DefaultX, box.DefaultY})
		}
	default:
		return nil, fmt.Errorf("ubicacion de firma no soportada: %T", loc)
	}

	out := make([]Placement, 0, len(pages))
	for i, p := range pages {
		if p < 1 || p > numPages {
			return nil, fmt.Errorf("Page number %d is out of range.", p)
		}
		x, y := points[i][0], points[i][1]
		out = append(out, Placement{
			Page:  p,
			Field: fmt.Sprintf("Signature_Page_%d_%d", p, i+1),
			Rect:  [4]float64{x, y, x + box.Width, y + box.Height},
		})
	}
	return out, nil
}

// PageCount reads the number of pages of a PDF held in memory.
func PageCount(data []byte) (int, error) {
	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("PDF invalido: %w", err)
	}
	return rdr.NumPage(), nil
}

var signPDF = func(input io.ReadSeeker, output io.Writer, rdr *pdf.Reader, size int64, data pdfsign.SignData) error {
	return pdfsign.Sign(input, output, rdr, size, data)
}

var now = time.Now

// SignPlacements applies one approval signature per placement. Each pass
// signs the output of the previous one so earlier signatures stay valid.
func SignPlacements(doc []byte, key *Key, placements []Placement, meta Metadata) ([]byte, error) {
	if key == nil || key.Signer == nil || key.Certificate == nil {
		return nil, fmt.Errorf("clave de firma no disponible")
	}
	signer := strings.TrimSpace(meta.Name)
	if signer == "" {
		signer = strings.TrimSpace(key.Certificate.Subject.CommonName)
	}
	cur := doc
	for _, pl := range placements {
		signedAt := now().Local()
		rdr, err := pdf.NewReader(bytes.NewReader(cur), int64(len(cur)))
		if err != nil {
			return nil, fmt.Errorf("PDF invalido antes de %s: %w", pl.Field, err)
		}
		data := pdfsign.SignData{
			Signature: pdfsign.SignDataSignature{
				Info: pdfsign.SignDataSignatureInfo{
					Name:        signer,
					Location:    meta.Location,
					Reason:      meta.Reason,
					ContactInfo: meta.ContactInfo,
					Date:        signedAt,
				},
				CertType:   pdfsign.ApprovalSignature,
				DocMDPPerm: pdfsign.AllowFillingExistingFormFieldsAndSignaturesPerms,
			},
			Signer:            key.Signer,
			DigestAlgorithm:   crypto.SHA256,
			Certificate:       key.Certificate,
			CertificateChains: key.Chains,
			Appearance: pdfsign.Appearance{
				Visible:     true,
				Page:        uint32(pl.Page),
				LowerLeftX:  pl.Rect[0],
				LowerLeftY:  pl.Rect[1],
				UpperRightX: pl.Rect[2],
				UpperRightY: pl.Rect[3],
				Renderer:    stampRenderer(StampLines(signer, signedAt)),
			},
		}

		var out bytes.Buffer
		if err := signPDF(bytes.NewReader(cur), &out, rdr, int64(len(cur)), data); err != nil {
			return nil, fmt.Errorf("error firmando %s: %w", pl.Field, err)
		}
		if out.Len() == 0 {
			return nil, fmt.Errorf("PDF firmado vacio")
		}
		log.Printf("[Backend] %s aplicada en pagina %d rect=%v", pl.Field, pl.Page, pl.Rect)
		cur = out.Bytes()
	}
	return cur, nil
}

// StampLines is the text drawn inside every visible signature box.
func StampLines(signer string, at time.Time) []string {
	return []string{
		"For: " + signer,
		"Time: " + at.Format("2006-01-02 15:04:05 MST"),
	}
}

const stampFontSize = 9.0

// stampRenderer builds the appearance XObject for the signature widget:
// the lines top-down in Helvetica, shrunk to fit the box width.
func stampRenderer(lines []string) func(*pdfsign.SignContext, [4]float64) ([]byte, error) {
	return func(_ *pdfsign.SignContext, rect [4]float64) ([]byte, error) {
		w, h := rect[2]-rect[0], rect[3]-rect[1]
		if w < 1 || h < 1 {
			return nil, fmt.Errorf("rectangulo de firma invalido: %.2fx%.2f", w, h)
		}

		size := stampFontSize
		for _, l := range lines {
			// Helvetica averages about half an em per glyph.
			if need := float64(len(l)) * size * 0.5; need > w-4 {
				size = (w - 4) / (float64(len(l)) * 0.5)
			}
		}
		if fit := (h - 4) / (float64(len(lines)) * 1.2); size > fit {
			size = fit
		}

		var stream bytes.Buffer
		stream.WriteString("q\nBT\n0 0 0 rg\n")
		fmt.Fprintf(&stream, "/F1 %.2f Tf\n%.2f TL\n", size, size*1.2)
		fmt.Fprintf(&stream, "2 %.2f Td\n", h-2-size)
		for i, l := range lines {
			if i > 0 {
				stream.WriteString("T*\n")
			}
			fmt.Fprintf(&stream, "%s Tj\n", pdfLiteral(l))
		}
		stream.WriteString("ET\nQ\n")

		var buf bytes.Buffer
		buf.WriteString("<<\n/Type /XObject\n/Subtype /Form\n")
		fmt.Fprintf(&buf, "/BBox [0 0 %.2f %.2f]\n", w, h)
		buf.WriteString("/Resources << /Font << /F1 << /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >> >> >>\n")
		fmt.Fprintf(&buf, "/FormType 1\n/Length %d\n>>\nstream\n", stream.Len())
		buf.Write(stream.Bytes())
		buf.WriteString("endstream\n")
		return buf.Bytes(), nil
	}
}

// pdfLiteral writes s as a PDF string in WinAnsi. Runes outside Latin-1
// become '?'.
func pdfLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		case r >= 0xa0 && r <= 0xff:
			fmt.Fprintf(&b, "\\%03o", r)
		default:
			b.WriteByte('?')
		}
	}
	b.WriteByte(')')
	return b.String()
}
