// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

// Package updater compares the running build against a published release
// manifest ({"version": "...", "url": "...", "notes": "..."}).
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Manifest struct {
	Version string `json:"version"`
	URL     string `json:"url,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type Result struct {
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	UpdateURL      string `json:"update_url,omitempty"`
	Notes          string `json:"notes,omitempty"`
	HasUpdate      bool   `json:"has_update"`
}

// Client fetches manifests. The zero value uses a client with an 8s timeout.
type Client struct {
	HTTP *http.Client
}

func (c Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 8 * time.Second}
}

// Check downloads the manifest at manifestURL and reports whether it names
// a newer version than current.
func (c Client) Check(ctx context.Context, current, manifestURL string) (*Result, error) {
	manifestURL = strings.TrimSpace(manifestURL)
	if manifestURL == "" {
		return nil, fmt.Errorf("URL de actualizacion vacia")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("estado HTTP no valido: %d", resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&m); err != nil {
		return nil, fmt.Errorf("json de version invalido: %w", err)
	}
	latest := strings.TrimSpace(m.Version)
	if latest == "" {
		return nil, fmt.Errorf("json sin campo 'version'")
	}
	current = strings.TrimSpace(current)
	return &Result{
		CurrentVersion: current,
		LatestVersion:  latest,
		UpdateURL:      strings.TrimSpace(m.URL),
		Notes:          strings.TrimSpace(m.Notes),
		HasUpdate:      Compare(latest, current) > 0,
	}, nil
}

// Compare orders dotted versions numerically ("v1.10" > "1.9"). A
// pre-release suffix ("1.2.0-rc1") sorts before the plain release.
func Compare(a, b string) int {
	an, apre := split(a)
	bn, bpre := split(b)
	for i := 0; i < len(an) || i < len(bn); i++ {
		var av, bv int
		if i < len(an) {
			av = an[i]
		}
		if i < len(bn) {
			bv = bn[i]
		}
		if av != bv {
			if av > bv {
				return 1
			}
			return -1
		}
	}
	switch {
	case apre == bpre:
		return 0
	case apre == "":
		return 1
	case bpre == "":
		return -1
	case apre > bpre:
		return 1
	default:
		return -1
	}
}

func split(v string) ([]int, string) {
	v = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "v")
	core, pre, _ := strings.Cut(v, "-")
	var nums []int
	for _, p := range strings.Split(core, ".") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			n = 0
		}
		nums = append(nums, n)
	}
	return nums, pre
}
