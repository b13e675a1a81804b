package signing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usbRequest(t *testing.T, pin string) SignRequest {
	return SignRequest{
		Mode:        ModeUSBToken,
		Document:    DocumentRef{DocType: "Purchase Order", Name: "PO-7"},
		PrintFormat: "Standard",
		Credential:  NewCredential(pin),
		Location:    AnchorList{mustAnchor(t, 1, 10, 10)},
	}
}

func TestInvokerThrottlesHardwareTokenRetries(t *testing.T) {
	backend := &fakeBackend{}
	host := &fakeHost{}
	iv := NewInvoker(backend, host, time.Hour)

	_, err := iv.Invoke(context.Background(), usbRequest(t, "1234"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := usbRequest(t, "1234")
	_, err = iv.Invoke(ctx, req)
	kind, _ := KindOf(err)
	assert.Equal(t, KindBackend, kind)
	assert.Len(t, backend.calls, 1)
	assert.True(t, req.Credential.Empty())
	assert.Equal(t, []string{"Signing with USB Key: Communicating with USB security key..."}, host.progress)
}

func TestInvokerRejectsMissingPayload(t *testing.T) {
	iv := NewInvoker(&fakeBackend{}, &fakeHost{}, 0)
	req := usbRequest(t, "1234")
	req.Location = nil

	_, err := iv.Invoke(context.Background(), req)
	kind, _ := KindOf(err)
	assert.Equal(t, KindValidation, kind)
	assert.True(t, req.Credential.Empty())
}

func TestInvokerPasswordModeHasNoProgress(t *testing.T) {
	host := &fakeHost{}
	iv := NewInvoker(&fakeBackend{}, host, 0)
	req := usbRequest(t, "secret")
	req.Mode = ModePassword
	req.Location = AllPages()

	ref, err := iv.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "PO-7-signed.pdf", ref.FileName)
	assert.Zero(t, host.shown)
}

func TestInvokerWithHostSharesLimiter(t *testing.T) {
	backend := &fakeBackend{}
	first := &fakeHost{}
	second := &fakeHost{}
	iv := NewInvoker(backend, first, time.Hour)

	_, err := iv.Invoke(context.Background(), usbRequest(t, "1234"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = iv.WithHost(second).Invoke(ctx, usbRequest(t, "1234"))
	require.Error(t, err)
	assert.Len(t, backend.calls, 1)
	assert.Empty(t, second.progress)
}
