// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package applog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Options comes from the [logging] section of the config file.
type Options struct {
	Dir           string
	RetentionDays int
	MaxTotalMB    int
}

var (
	mu      sync.Mutex
	current *os.File
	now     = time.Now
)

// Init sends the standard logger to stderr and to a daily file in
// opts.Dir, then prunes old files. It can be called again after a config
// reload; the previous file is closed.
func Init(name string, opts Options) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "digital-signer", "logs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("no se pudo crear el directorio de logs %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.log", sanitizeName(name), now().Format("2006-01-02")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("no se pudo abrir %s: %w", path, err)
	}

	log.SetOutput(io.MultiWriter(os.Stderr, f))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC | log.Lshortfile)
	if current != nil {
		_ = current.Close()
	}
	current = f

	if removed := Prune(dir, opts, filepath.Base(path)); len(removed) > 0 {
		log.Printf("[Log] Eliminados %d ficheros antiguos de %s", len(removed), dir)
	}
	return path, nil
}

// Path is the file Init last opened, or "".
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return ""
	}
	return current.Name()
}

// Prune removes .log files in dir older than RetentionDays, then the
// oldest ones until the rest fit in MaxTotalMB. keep is never removed.
// Zero limits are ignored.
func Prune(dir string, opts Options, keep string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type candidate struct {
		name string
		mod  time.Time
		size int64
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: e.Name(), mod: info.ModTime(), size: info.Size()})
	}
	// Newest first: files are kept until a limit is crossed.
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })

	var cutoff time.Time
	if opts.RetentionDays > 0 {
		cutoff = now().AddDate(0, 0, -opts.RetentionDays)
	}
	budget := int64(opts.MaxTotalMB) << 20

	var used int64
	var removed []string
	for _, f := range files {
		if f.name == keep {
			used += f.size
			continue
		}
		expired := !cutoff.IsZero() && f.mod.Before(cutoff)
		overBudget := budget > 0 && used+f.size > budget
		if !expired && !overBudget {
			used += f.size
			continue
		}
		if err := os.Remove(filepath.Join(dir, f.name)); err == nil {
			removed = append(removed, f.name)
		}
	}
	return removed
}

func sanitizeName(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "digital-signer"
	}
	return strings.Trim(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, v), "-")
}
