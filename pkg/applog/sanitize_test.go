package applog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeURIRedactsToken(t *testing.T) {
	got := SanitizeURI("http://127.0.0.1:8765/preview/abc?token=s3cr3t&page=2")
	assert.NotContains(t, got, "s3cr3t")
	assert.Contains(t, got, "page=2")
	assert.Contains(t, got, "REDACTED")
}

func TestMaskID(t *testing.T) {
	assert.Equal(t, "-", MaskID("  "))
	assert.Equal(t, "short", MaskID("short"))
	masked := MaskID("0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.True(t, strings.HasPrefix(masked, "0f8fad"))
	assert.True(t, strings.HasSuffix(masked, "950e"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "digital-signer", sanitizeName(""))
	assert.Equal(t, "my-app", sanitizeName(" My App "))
	assert.Equal(t, "digital-signer", sanitizeName("Digital Signer"))
}

func TestBytesMetaDoesNotLeakContent(t *testing.T) {
	meta := BytesMeta("pdf", []byte("%PDF-1.7 secret body"))
	assert.NotContains(t, meta, "secret")
	assert.Contains(t, meta, "len=20")
}
