package applog

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, dir, name string, size int, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o600))
	mod := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestPruneByAge(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a-old.log", 10, 20*24*time.Hour)
	writeLog(t, dir, "a-new.log", 10, time.Hour)
	writeLog(t, dir, "notes.txt", 10, 40*24*time.Hour)

	removed := Prune(dir, Options{RetentionDays: 14}, "")
	assert.Equal(t, []string{"a-old.log"}, removed)
	assert.FileExists(t, filepath.Join(dir, "a-new.log"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestPruneBySizeDropsOldestFirst(t *testing.T) {
	dir := t.TempDir()
	mb := 1 << 20
	writeLog(t, dir, "d1.log", mb, 3*time.Hour)
	writeLog(t, dir, "d2.log", mb, 2*time.Hour)
	writeLog(t, dir, "d3.log", mb, time.Hour)

	removed := Prune(dir, Options{MaxTotalMB: 2}, "")
	assert.Equal(t, []string{"d1.log"}, removed)
}

func TestPruneNeverRemovesCurrentFile(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "today.log", 10, 30*24*time.Hour)
	assert.Empty(t, Prune(dir, Options{RetentionDays: 1}, "today.log"))
}

func TestInitWritesToConfiguredDir(t *testing.T) {
	prev, flags := log.Writer(), log.Flags()
	t.Cleanup(func() {
		log.SetOutput(prev)
		log.SetFlags(flags)
		mu.Lock()
		if current != nil {
			_ = current.Close()
			current = nil
		}
		mu.Unlock()
	})
	now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = time.Now })

	dir := filepath.Join(t.TempDir(), "logs")
	path, err := Init("Digital Signer", Options{Dir: dir, RetentionDays: 14, MaxTotalMB: 50})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "digital-signer-2026-03-09.log"), path)
	assert.Equal(t, path, Path())

	log.Print("[Test] hola")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Test] hola")
}
