// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package preview

import (
	"fmt"
	"io"
	"math"

	"github.com/digitorus/pdf"
)

// DefaultScale is the zoom every preview page is rendered at.
const DefaultScale = 1.5

// PageSize is a page's visible box in PDF points.
type PageSize struct {
	WidthPt  float64 `json:"width"`
	HeightPt float64 `json:"height"`
}

// ReadGeometry returns the size of every page, in page order.
func ReadGeometry(r io.ReaderAt, size int64) ([]PageSize, error) {
	rdr, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("no se pudo leer el PDF: %w", err)
	}
	n := rdr.NumPage()
	if n < 1 {
		return nil, fmt.Errorf("el PDF no contiene páginas")
	}
	pages := make([]PageSize, 0, n)
	for i := 1; i <= n; i++ {
		ps, err := pageSize(rdr.Page(i))
		if err != nil {
			return nil, fmt.Errorf("página %d: %w", i, err)
		}
		pages = append(pages, ps)
	}
	return pages, nil
}

func pageSize(p pdf.Page) (PageSize, error) {
	box := inheritedPageBox(p.V, "CropBox")
	if box.IsNull() {
		box = inheritedPageBox(p.V, "MediaBox")
	}
	if box.IsNull() || box.Len() < 4 {
		return PageSize{}, fmt.Errorf("no se pudo obtener MediaBox/CropBox")
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return PageSize{}, fmt.Errorf("dimensiones de página inválidas")
	}
	return PageSize{WidthPt: w, HeightPt: h}, nil
}

func inheritedPageBox(v pdf.Value, key string) pdf.Value {
	for !v.IsNull() {
		if box := v.Key(key); !box.IsNull() {
			return box
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

// ToDocumentSpace converts a click relative to the top-left corner of a page
// rendered at scale into PDF user space (origin bottom-left). pageHeightPx is
// the rendered height of that page.
func ToDocumentSpace(clickX, clickY, pageHeightPx, scale float64) (x, y int) {
	if scale <= 0 {
		scale = DefaultScale
	}
	return roundHalfUp(clickX / scale), roundHalfUp((pageHeightPx - clickY) / scale)
}

// roundHalfUp rounds .5 towards positive infinity, as browsers do.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
