// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package applog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// MaskID shortens session, surface and attachment ids for log lines.
func MaskID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	if len(v) <= 10 {
		return v
	}
	return v[:6] + "..." + v[len(v)-4:]
}

func Digest12(v []byte) string {
	sum := sha256.Sum256(v)
	return hex.EncodeToString(sum[:])[:12]
}

// BytesMeta describes a payload (rendition, signed artifact) without dumping it.
func BytesMeta(label string, raw []byte) string {
	return fmt.Sprintf("%s[len=%d sha12=%s]", label, len(raw), Digest12(raw))
}

var sensitiveParams = map[string]struct{}{
	"token":    {},
	"pin":      {},
	"password": {},
	"passwd":   {},
	"secret":   {},
	"key":      {},
}

// SanitizeURI redacts credential-like query parameters and truncates the rest.
func SanitizeURI(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return truncate(raw, 180)
	}

	q := u.Query()
	for k, values := range q {
		lk := strings.ToLower(strings.TrimSpace(k))
		if _, ok := sensitiveParams[lk]; ok {
			for i := range values {
				values[i] = "[REDACTED]"
			}
			q[k] = values
			continue
		}
		for i := range values {
			values[i] = truncate(values[i], 80)
		}
		q[k] = values
	}
	u.RawQuery = q.Encode()
	return truncate(u.String(), 220)
}

func truncate(v string, max int) string {
	if max < 8 {
		max = 8
	}
	if len(v) <= max {
		return v
	}
	return v[:max] + "...(trunc)"
}
