// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package backend

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePageRange expands "1,3-5" into [1 3 4 5], keeping the written order.
// Pages are not checked against the document here.
func ParsePageRange(spec string) ([]int, error) {
	var pages []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			start, err := parsePage(from)
			if err != nil {
				return nil, err
			}
			end, err := parsePage(to)
			if err != nil {
				return nil, err
			}
			if end < start {
				return nil, fmt.Errorf("Invalid page range %q.", part)
			}
			for p := start; p <= end; p++ {
				pages = append(pages, p)
			}
			continue
		}
		p, err := parsePage(part)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("Invalid page range %q.", spec)
	}
	return pages, nil
}

func parsePage(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("Invalid page number %q.", strings.TrimSpace(v))
	}
	return n, nil
}
