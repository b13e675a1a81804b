// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

// Package testpdf builds tiny, structurally valid PDFs for tests.
package testpdf

import (
	"bytes"
	"fmt"
)

// Box is a page box [llx lly urx ury] in points.
type Box [4]float64

var A4 = Box{0, 0, 595, 842}

// Build returns a PDF with one page per box. The first box is also set as
// the inherited MediaBox of the page tree; every other page carries its own
// CropBox so both lookup paths are exercised.
func Build(boxes ...Box) []byte {
	if len(boxes) == 0 {
		boxes = []Box{A4}
	}
	var objs []string
	kids := ""
	for i := range boxes {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox %s >>", kids, len(boxes), boxes[0].pdf()))
	for i, b := range boxes {
		if i == 0 {
			objs = append(objs, "<< /Type /Page /Parent 2 0 R >>")
			continue
		}
		objs = append(objs, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /CropBox %s >>", b.pdf()))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func (b Box) pdf() string {
	return fmt.Sprintf("[%g %g %g %g]", b[0], b[1], b[2], b[3])
}
