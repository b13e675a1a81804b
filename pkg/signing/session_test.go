package signing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digital-signer/pkg/notice"
	"digital-signer/pkg/transport"
)

type harness struct {
	bus      *transport.Bus
	backend  *fakeBackend
	host     *fakeHost
	previews *fakePreviews
	session  *Session
}

func newHarness(t *testing.T, mode Mode, flow Flow) *harness {
	t.Helper()
	h := &harness{
		bus:      transport.NewBus(),
		backend:  &fakeBackend{formats: []string{"Invoice Standard"}},
		host:     &fakeHost{},
		previews: &fakePreviews{},
	}
	h.session = NewSession("sess-0001", mode, flow, DocumentRef{DocType: "Sales Invoice", Name: "SINV-0001"}, Deps{
		Backend:  h.backend,
		Previews: h.previews,
		Bus:      h.bus,
		Host:     h.host,
	})
	t.Cleanup(h.session.Dismiss)
	return h
}

// preview opens the session up to the point where clicks are accepted.
func (h *harness) preview(t *testing.T) PreviewSurface {
	t.Helper()
	_, err := h.session.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.session.SelectFormat("Invoice Standard"))
	surface, err := h.session.OpenPreview(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatePreviewing, h.session.State())
	return surface
}

func (h *harness) click(t *testing.T, surface PreviewSurface, page, x, y int) {
	t.Helper()
	require.NoError(t, h.bus.Publish(surface.ID(), transport.NewMessage(page, x, y)))
}

func mustAnchor(t *testing.T, page, x, y int) Anchor {
	t.Helper()
	a, err := NewAnchor(page, x, y)
	require.NoError(t, err)
	return a
}

func TestExampleScenarioSubmitsOrderedAnchors(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	surface := h.preview(t)

	h.click(t, surface, 1, 67, 428)
	assert.Equal(t, StateCapturing, h.session.State())
	h.click(t, surface, 2, 33, 508)
	require.NoError(t, h.session.SetCredential("pfx-pass"))
	assert.Equal(t, StateReady, h.session.State())

	ref, err := h.session.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SINV-0001-signed.pdf", ref.FileName)

	require.Len(t, h.backend.calls, 1)
	call := h.backend.calls[0]
	assert.Equal(t, "Invoice Standard", call.PrintFormat)
	assert.Equal(t, AnchorList{mustAnchor(t, 1, 67, 428), mustAnchor(t, 2, 33, 508)}, call.Location)
	assert.Equal(t, []string{"pfx-pass"}, h.backend.secrets)

	assert.Len(t, h.host.reloads, 1)
	assert.Equal(t, SuccessNotice(ModePassword), h.host.last())
	assert.Equal(t, StateDone, h.session.State())
	assert.Zero(t, h.bus.Subscribers())
}

func TestSuccessNoticeWordingByMode(t *testing.T) {
	assert.Equal(t, "Signed PDF attached successfully!", SuccessNotice(ModePassword).Message)
	assert.Equal(t, "PDF signed with USB security key and attached successfully!", SuccessNotice(ModeUSBToken).Message)
}

func TestClickNoticesAcknowledgeEachAnchor(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	surface := h.preview(t)
	h.click(t, surface, 3, 10, 20)

	n := h.host.last()
	assert.Equal(t, notice.Informational, n.Severity)
	assert.Equal(t, "Signature location added: Page 3, X: 10, Y: 20", n.Message)
}

func TestDuplicateClicksAreKept(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	surface := h.preview(t)
	for i := 0; i < 3; i++ {
		h.click(t, surface, 1, 100, 100)
	}
	h.click(t, surface, 2, 1, 1)

	anchors := h.session.Anchors()
	require.Len(t, anchors, 4)
	assert.Equal(t, anchors[0], anchors[1])
	assert.Equal(t, 2, anchors[3].Page())
}

func TestConfirmWithoutAnchorsNeverCallsBackend(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	h.preview(t)
	require.NoError(t, h.session.SetCredential("pfx-pass"))

	_, err := h.session.Confirm(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, kind)
	assert.Equal(t, "Please select at least one signature location.", err.Error())
	assert.Empty(t, h.backend.calls)
	assert.Equal(t, StatePreviewing, h.session.State())
}

func TestConfirmWithoutCredentialIsValidationError(t *testing.T) {
	h := newHarness(t, ModeUSBToken, FlowLocation)
	surface := h.preview(t)
	h.click(t, surface, 1, 1, 1)

	_, err := h.session.Confirm(context.Background())
	kind, _ := KindOf(err)
	assert.Equal(t, KindValidation, kind)
	assert.Empty(t, h.backend.calls)
	assert.Equal(t, StateCapturing, h.session.State())
}

func TestEmptyFormatListIsConfigurationError(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	h.backend.formats = nil

	_, err := h.session.Open(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindConfiguration, kind)
	assert.Equal(t, notice.Blocking, h.host.last().Severity)
	assert.Equal(t, StateIdle, h.session.State())
}

func TestSelectUnknownFormatRejected(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	_, err := h.session.Open(context.Background())
	require.NoError(t, err)

	err = h.session.SelectFormat("Other")
	kind, _ := KindOf(err)
	assert.Equal(t, KindValidation, kind)
	assert.Equal(t, StateIdle, h.session.State())
}

func TestUSBPinFailureWarnsAboutLockoutAndAllowsRetry(t *testing.T) {
	h := newHarness(t, ModeUSBToken, FlowLocation)
	surface := h.preview(t)
	h.click(t, surface, 1, 67, 428)

	h.backend.signFn = func(req SignRequest) (ArtifactRef, error) {
		return ArtifactRef{}, errors.New("USB key authentication failed: CKR_PIN_INCORRECT")
	}
	require.NoError(t, h.session.SetCredential("1111"))
	_, err := h.session.Confirm(context.Background())

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindAuthentication, se.Kind)
	assert.True(t, se.Lockout)
	assert.Contains(t, se.Error(), "Multiple failed attempts may lock your USB key")
	assert.Equal(t, "Authentication Failed", h.host.last().Title)
	assert.Equal(t, notice.Blocking, h.host.last().Severity)
	assert.Equal(t, StateReady, h.session.State())
	assert.False(t, h.session.CredentialSet())
	assert.Equal(t, 1, h.host.shown)
	assert.Equal(t, 1, h.host.hidden)
	assert.Equal(t, 1, h.bus.Subscribers())

	// Retry without a new PIN stays local.
	_, err = h.session.Confirm(context.Background())
	kind, _ := KindOf(err)
	assert.Equal(t, KindValidation, kind)
	require.Len(t, h.backend.calls, 1)

	h.backend.signFn = nil
	require.NoError(t, h.session.SetCredential("2222"))
	_, err = h.session.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1111", "2222"}, h.backend.secrets)
	assert.Equal(t, SuccessNotice(ModeUSBToken), h.host.last())
	assert.Len(t, h.host.reloads, 1)
}

func TestPasswordRejectedIsAuthenticationWithoutLockout(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	surface := h.preview(t)
	h.click(t, surface, 1, 5, 5)
	h.backend.signFn = func(req SignRequest) (ArtifactRef, error) {
		return ArtifactRef{}, errors.Join(ErrCredentialRejected, errors.New("pkcs12: decryption password incorrect"))
	}
	require.NoError(t, h.session.SetCredential("bad"))

	_, err := h.session.Confirm(context.Background())
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindAuthentication, se.Kind)
	assert.False(t, se.Lockout)
	assert.Zero(t, h.host.shown)
}

func TestBackendErrorSurfacedVerbatim(t *testing.T) {
	for _, mode := range []Mode{ModePassword, ModeUSBToken} {
		t.Run(mode.String(), func(t *testing.T) {
			h := newHarness(t, mode, FlowLocation)
			surface := h.preview(t)
			h.click(t, surface, 9, 5, 5)
			h.backend.signFn = func(req SignRequest) (ArtifactRef, error) {
				return ArtifactRef{}, errors.New("Page number 9 is out of range.")
			}
			require.NoError(t, h.session.SetCredential("x"))

			_, err := h.session.Confirm(context.Background())
			kind, _ := KindOf(err)
			assert.Equal(t, KindBackend, kind)
			assert.Equal(t, "Page number 9 is out of range.", h.host.last().Message)
			assert.Equal(t, StateReady, h.session.State())
		})
	}
}

func TestMissingTokenIsHardwareError(t *testing.T) {
	h := newHarness(t, ModeUSBToken, FlowLocation)
	surface := h.preview(t)
	h.click(t, surface, 1, 5, 5)
	h.backend.signFn = func(req SignRequest) (ArtifactRef, error) {
		return ArtifactRef{}, errors.Join(ErrTokenUnavailable, errors.New("no token in slot 0"))
	}
	require.NoError(t, h.session.SetCredential("1234"))

	_, err := h.session.Confirm(context.Background())
	kind, _ := KindOf(err)
	assert.Equal(t, KindHardware, kind)
	assert.Equal(t, "USB Key Error", h.host.last().Title)
}

func TestAnchorsFromForeignSurfaceAreRejected(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	surface := h.preview(t)

	err := h.bus.Publish("someone-else", transport.NewMessage(1, 1, 1))
	assert.ErrorIs(t, err, transport.ErrUnknownSource)
	assert.Empty(t, h.session.Anchors())

	h.click(t, surface, 1, 2, 2)
	assert.Len(t, h.session.Anchors(), 1)
}

func TestSecondPreviewFeedsSameList(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	first := h.preview(t)
	second, err := h.session.OpenPreview(context.Background())
	require.NoError(t, err)

	h.click(t, first, 1, 1, 1)
	h.click(t, second, 2, 2, 2)
	h.click(t, first, 3, 3, 3)

	var pages []int
	for _, a := range h.session.Anchors() {
		pages = append(pages, a.Page())
	}
	assert.Equal(t, []int{1, 2, 3}, pages)
	assert.Equal(t, 1, h.bus.Subscribers())
}

func TestDismissReleasesSubscriptionAndSurfaces(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	surface := h.preview(t)
	require.NoError(t, h.session.SetCredential("pfx-pass"))

	h.session.Dismiss()
	h.session.Dismiss()

	assert.Equal(t, StateDismissed, h.session.State())
	assert.Zero(t, h.bus.Subscribers())
	assert.Equal(t, 1, h.previews.opened[0].closed)
	assert.ErrorIs(t, h.bus.Publish(surface.ID(), transport.NewMessage(1, 1, 1)), transport.ErrUnknownSource)
	assert.False(t, h.session.CredentialSet())

	_, err := h.session.Confirm(context.Background())
	assert.Error(t, err)
	assert.Empty(t, h.backend.calls)
}

func TestAnchorsDuringSigningBelongToNextAttempt(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	surface := h.preview(t)
	h.click(t, surface, 1, 1, 1)
	require.NoError(t, h.session.SetCredential("p"))

	h.backend.signFn = func(req SignRequest) (ArtifactRef, error) {
		require.Equal(t, StateSigning, h.session.State())
		require.NoError(t, h.bus.Publish(surface.ID(), transport.NewMessage(2, 2, 2)))
		return ArtifactRef{}, errors.New("timeout talking to signer")
	}
	_, err := h.session.Confirm(context.Background())
	require.Error(t, err)

	assert.Len(t, h.backend.calls[0].Location.(AnchorList), 1)
	assert.Len(t, h.session.Anchors(), 2)
}

func TestPagesFlowSkipsPreview(t *testing.T) {
	h := newHarness(t, ModeUSBToken, FlowPages)
	_, err := h.session.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.session.SelectFormat("Invoice Standard"))

	_, err = h.session.OpenPreview(context.Background())
	kind, _ := KindOf(err)
	assert.Equal(t, KindValidation, kind)

	_, err = h.session.Confirm(context.Background())
	kind, _ = KindOf(err)
	assert.Equal(t, KindValidation, kind)

	require.NoError(t, h.session.SetPageSelection(PageRange("1,3-5")))
	assert.Equal(t, StateFormatSelected, h.session.State())
	require.NoError(t, h.session.SetCredential("4321"))
	assert.Equal(t, StateReady, h.session.State())

	_, err = h.session.Confirm(context.Background())
	require.NoError(t, err)
	require.Len(t, h.backend.calls, 1)
	sel, ok := h.backend.calls[0].Location.(PageSelection)
	require.True(t, ok)
	assert.False(t, sel.All())
	assert.Equal(t, "1,3-5", sel.RangeSpec())
	assert.Equal(t, 1, h.host.shown)
}

func TestPagesFlowRejectsEmptyRange(t *testing.T) {
	h := newHarness(t, ModePassword, FlowPages)
	_, err := h.session.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.session.SelectFormat("Invoice Standard"))

	err = h.session.SetPageSelection(PageRange("  "))
	kind, _ := KindOf(err)
	assert.Equal(t, KindValidation, kind)

	require.NoError(t, h.session.SetPageSelection(AllPages()))
	sel, ok := h.session.Selection()
	require.True(t, ok)
	assert.True(t, sel.All())
}

func TestCredentialWipedAfterInvocation(t *testing.T) {
	h := newHarness(t, ModePassword, FlowLocation)
	surface := h.preview(t)
	h.click(t, surface, 1, 1, 1)
	require.NoError(t, h.session.SetCredential("pfx-pass"))

	_, err := h.session.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, h.backend.calls[0].Credential.Empty())
}
