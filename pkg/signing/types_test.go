package signing

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialNeverPrints(t *testing.T) {
	c := NewCredential("hunter2")
	out := fmt.Sprintf("%v %s %+v %#v", c, c, c, c)
	assert.NotContains(t, out, "hunter2")

	raw, err := json.Marshal(struct {
		C *Credential `json:"c"`
	}{c})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
}

func TestCredentialUseAfterWipe(t *testing.T) {
	c := NewCredential("1234")
	c.Wipe()
	assert.True(t, c.Empty())
	err := c.Use(func(string) error { t.Fatalf("no se esperaba acceso al secreto"); return nil })
	assert.Error(t, err)

	var nilCred *Credential
	assert.True(t, nilCred.Empty())
	nilCred.Wipe()
}

func TestPromptForMode(t *testing.T) {
	assert.Equal(t, CredentialPrompt{Label: "Enter PFX Password"}, PromptFor(ModePassword))
	p := PromptFor(ModeUSBToken)
	assert.Equal(t, "Enter USB Key PIN", p.Label)
	assert.NotEmpty(t, p.Help)
}

func TestDialogTitles(t *testing.T) {
	assert.Equal(t, "Sign with USB Security Key", DialogTitle(ModeUSBToken, FlowPages))
	assert.Equal(t, "Choose Print Format", DialogTitle(ModePassword, FlowPages))
	assert.Equal(t, "Sign PDF with USB Security Key", DialogTitle(ModeUSBToken, FlowLocation))
	assert.Equal(t, "Sign PDF", DialogTitle(ModePassword, FlowLocation))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("USB")
	require.NoError(t, err)
	assert.Equal(t, ModeUSBToken, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePassword, m)
	_, err = ParseMode("smartcard")
	assert.Error(t, err)
}

func TestNewAnchorRejectsPageZero(t *testing.T) {
	_, err := NewAnchor(0, 1, 1)
	assert.Error(t, err)

	var a Anchor
	assert.Error(t, json.Unmarshal([]byte(`{"page":0,"x":1,"y":2}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"page":2,"x":33,"y":508}`), &a))
	assert.Equal(t, "Page 2, X: 33, Y: 508", a.String())

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"page":2,"x":33,"y":508}`, string(raw))
}

func TestNoticeForPlainError(t *testing.T) {
	n := NoticeFor(fmt.Errorf("boom"))
	assert.Equal(t, "boom", n.Message)
	assert.Equal(t, "red", n.Severity.Indicator())
}
