package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digital-signer/pkg/signing"
	"digital-signer/pkg/store"
	"digital-signer/pkg/transport"
	"digital-signer/pkg/usbprobe"
)

type fakeBackend struct {
	mu      sync.Mutex
	formats []string
	signErr error
	calls   []signing.SignRequest
	secrets []string
}

func (b *fakeBackend) ListPrintFormats(context.Context, string) ([]string, error) {
	return b.formats, nil
}

func (b *fakeBackend) Sign(_ context.Context, req signing.SignRequest) (signing.ArtifactRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, req)
	_ = req.Credential.Use(func(secret string) error {
		b.secrets = append(b.secrets, secret)
		return nil
	})
	if b.signErr != nil {
		return signing.ArtifactRef{}, b.signErr
	}
	return signing.ArtifactRef{ID: "att-1", FileName: req.Document.Name + "-signed.pdf"}, nil
}

type fakeSurface struct{ id string }

func (s *fakeSurface) ID() string   { return s.id }
func (s *fakeSurface) URL() string  { return "http://127.0.0.1/preview/" + s.id + "?token=t" }
func (s *fakeSurface) Close() error { return nil }

type fakePreviews struct {
	mu   sync.Mutex
	next int
}

func (p *fakePreviews) Open(context.Context, signing.DocumentRef, string, signing.Mode) (signing.PreviewSurface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return &fakeSurface{id: fmt.Sprintf("surface-%d", p.next)}, nil
}

type fakeProber struct{ res usbprobe.Result }

func (p fakeProber) Probe(context.Context) usbprobe.Result { return p.res }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	srv     *httptest.Server
	api     *Server
	backend *fakeBackend
	bus     *transport.Bus
	mode    signing.Mode
}

func newHarness(t *testing.T, mode signing.Mode) *harness {
	t.Helper()
	return newHarnessWith(t, mode, nil)
}

func newHarnessWith(t *testing.T, mode signing.Mode, tweak func(*Config)) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "signer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.PutDocument(ctx, store.Document{DocType: "Sales Invoice", Name: "SINV-1", Status: store.StatusSubmitted}))
	require.NoError(t, st.PutDocument(ctx, store.Document{DocType: "Sales Invoice", Name: "SINV-2", Status: store.StatusDraft}))

	h := &harness{backend: &fakeBackend{formats: []string{"Standard", "Detailed"}}, bus: transport.NewBus(), mode: mode}
	cfg := Config{
		Backend:  h.backend,
		Store:    st,
		Previews: &fakePreviews{},
		Bus:      h.bus,
		Mode:     func() signing.Mode { return h.mode },
		Prober: func() Prober {
			return fakeProber{res: usbprobe.Result{
				Status:  usbprobe.StatusConnected,
				Message: "Found 1 USB security key(s)",
				Slots:   []usbprobe.SlotInfo{{SlotID: 0, Description: "ePass2003", Manufacturer: "FT"}},
			}}
		},
	}
	if tweak != nil {
		tweak(&cfg)
	}
	h.api = NewServer(cfg)
	h.srv = httptest.NewServer(h.api.Router())
	t.Cleanup(func() {
		h.api.Close()
		h.srv.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func actionIDs(out map[string]interface{}) []string {
	var ids []string
	for _, a := range out["actions"].([]interface{}) {
		ids = append(ids, a.(map[string]interface{})["id"].(string))
	}
	return ids
}

func TestActionsGatedByStatusAndMode(t *testing.T) {
	h := newHarness(t, signing.ModePassword)

	code, out := h.do(t, http.MethodGet, "/api/documents/Sales%20Invoice/SINV-1/actions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{ActionSignPages, ActionSignLocation}, actionIDs(out))

	code, out = h.do(t, http.MethodGet, "/api/documents/Sales%20Invoice/SINV-2/actions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, out["actions"])

	h.mode = signing.ModeUSBToken
	_, out = h.do(t, http.MethodGet, "/api/documents/Sales%20Invoice/SINV-1/actions", nil)
	assert.Equal(t, []string{ActionSignPages, ActionSignLocation, ActionTestUSB}, actionIDs(out))

	code, _ = h.do(t, http.MethodGet, "/api/documents/Sales%20Invoice/NOPE/actions", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLocationFlowOverHTTP(t *testing.T) {
	h := newHarness(t, signing.ModeUSBToken)

	code, out := h.do(t, http.MethodPost, "/api/sessions", map[string]string{"doctype": "Sales Invoice", "name": "SINV-1", "flow": "location"})
	require.Equal(t, http.StatusCreated, code)
	id := out["id"].(string)
	assert.Equal(t, "Sign PDF with USB Security Key", out["title"])
	assert.Equal(t, signing.USBBanner, out["banner"])
	assert.Equal(t, []interface{}{"Standard", "Detailed"}, out["formats"])

	code, _ = h.do(t, http.MethodPost, "/api/sessions/"+id+"/format", map[string]string{"name": "Standard"})
	require.Equal(t, http.StatusOK, code)

	code, out = h.do(t, http.MethodPost, "/api/sessions/"+id+"/preview", nil)
	require.Equal(t, http.StatusOK, code)
	surface := out["surface"].(string)

	require.NoError(t, h.bus.Publish(surface, transport.NewMessage(1, 67, 428)))
	require.NoError(t, h.bus.Publish(surface, transport.NewMessage(2, 33, 508)))

	code, out = h.do(t, http.MethodPost, "/api/sessions/"+id+"/credential", map[string]string{"secret": "1234"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["credential_set"])
	assert.Equal(t, "ready", out["state"])
	assert.Len(t, out["anchors"], 2)

	code, out = h.do(t, http.MethodPost, "/api/sessions/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SINV-1-signed.pdf", out["artifact"].(map[string]interface{})["file_name"])
	assert.Equal(t, "PDF signed with USB security key and attached successfully!", out["notice"].(map[string]interface{})["message"])

	require.Len(t, h.backend.calls, 1)
	assert.Equal(t, []string{"1234"}, h.backend.secrets)
	anchors, ok := h.backend.calls[0].Location.(signing.AnchorList)
	require.True(t, ok)
	require.Len(t, anchors, 2)
	assert.Equal(t, "Page 2, X: 33, Y: 508", anchors[1].String())

	assert.Equal(t, 0, h.bus.Subscribers())
	code, _ = h.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDismissReleasesSession(t *testing.T) {
	h := newHarness(t, signing.ModePassword)

	_, out := h.do(t, http.MethodPost, "/api/sessions", map[string]string{"doctype": "Sales Invoice", "name": "SINV-1", "flow": "location"})
	id := out["id"].(string)
	h.do(t, http.MethodPost, "/api/sessions/"+id+"/format", map[string]string{"name": "Standard"})
	code, _ := h.do(t, http.MethodPost, "/api/sessions/"+id+"/preview", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, h.bus.Subscribers())

	code, _ = h.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, 0, h.bus.Subscribers())
	code, _ = h.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestIdleSessionsExpireWithoutDelete(t *testing.T) {
	h := newHarnessWith(t, signing.ModePassword, func(c *Config) { c.IdleTimeout = time.Hour })
	clock := &fakeClock{t: time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)}
	h.api.now = clock.Now

	_, out := h.do(t, http.MethodPost, "/api/sessions", map[string]string{"doctype": "Sales Invoice", "name": "SINV-1", "flow": "location"})
	stale := out["id"].(string)
	h.do(t, http.MethodPost, "/api/sessions/"+stale+"/format", map[string]string{"name": "Standard"})
	code, _ := h.do(t, http.MethodPost, "/api/sessions/"+stale+"/preview", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, h.bus.Subscribers())

	clock.Advance(50 * time.Minute)
	_, out = h.do(t, http.MethodPost, "/api/sessions", map[string]string{"doctype": "Sales Invoice", "name": "SINV-1", "flow": "pages"})
	fresh := out["id"].(string)

	clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, h.api.expireIdle())
	assert.Equal(t, 0, h.bus.Subscribers())

	code, _ = h.do(t, http.MethodGet, "/api/sessions/"+stale, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(t, http.MethodGet, "/api/sessions/"+fresh, nil)
	assert.Equal(t, http.StatusOK, code)

	assert.Equal(t, 0, h.api.expireIdle())
}

func TestPagesFlowValidationAndAuthFailure(t *testing.T) {
	h := newHarness(t, signing.ModeUSBToken)
	h.backend.signErr = fmt.Errorf("CKR_PIN_INCORRECT: %w", signing.ErrCredentialRejected)

	_, out := h.do(t, http.MethodPost, "/api/sessions", map[string]string{"doctype": "Sales Invoice", "name": "SINV-1", "flow": "pages"})
	id := out["id"].(string)
	assert.Equal(t, "Sign with USB Security Key", out["title"])

	h.do(t, http.MethodPost, "/api/sessions/"+id+"/format", map[string]string{"name": "Detailed"})

	code, out := h.do(t, http.MethodPost, "/api/sessions/"+id+"/selection", map[string]interface{}{"pages": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "validation", out["kind"])

	code, _ = h.do(t, http.MethodPost, "/api/sessions/"+id+"/selection", map[string]interface{}{"pages": "1,3-5"})
	require.Equal(t, http.StatusOK, code)

	code, out = h.do(t, http.MethodPost, "/api/sessions/"+id+"/confirm", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "Please enter your USB key PIN.", out["error"])
	assert.Empty(t, h.backend.calls)

	h.do(t, http.MethodPost, "/api/sessions/"+id+"/credential", map[string]string{"secret": "0000"})
	code, out = h.do(t, http.MethodPost, "/api/sessions/"+id+"/confirm", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "authentication", out["kind"])
	assert.Contains(t, out["error"], "Multiple failed attempts")

	_, out = h.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, "ready", out["state"])
	assert.Equal(t, false, out["credential_set"])
	assert.Nil(t, out["progress"])
}

func TestCreateSessionRejectsDraftAndBadFlow(t *testing.T) {
	h := newHarness(t, signing.ModePassword)

	code, _ := h.do(t, http.MethodPost, "/api/sessions", map[string]string{"doctype": "Sales Invoice", "name": "SINV-2"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = h.do(t, http.MethodPost, "/api/sessions", map[string]string{"doctype": "Sales Invoice", "name": "SINV-1", "flow": "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/api/sessions", map[string]string{"name": "SINV-1"})
	assert.Equal(t, http.StatusBadRequest, code)

	h.backend.formats = nil
	code, out := h.do(t, http.MethodPost, "/api/sessions", map[string]string{"doctype": "Sales Invoice", "name": "SINV-1"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "configuration", out["kind"])
}

func TestProbeOnlyInUSBMode(t *testing.T) {
	h := newHarness(t, signing.ModePassword)
	code, _ := h.do(t, http.MethodGet, "/api/usb/probe", nil)
	assert.Equal(t, http.StatusConflict, code)

	h.mode = signing.ModeUSBToken
	code, out := h.do(t, http.MethodGet, "/api/usb/probe", nil)
	require.Equal(t, http.StatusOK, code)
	n := out["notice"].(map[string]interface{})
	assert.Equal(t, "USB Key Connected", n["title"])
	assert.Equal(t, []interface{}{"Slot 0: ePass2003 (FT)"}, n["details"])
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, signing.ModePassword)
	code, out := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])

	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
