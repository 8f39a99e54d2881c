package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/campus-chat/chat"
)

func TestObjectName(t *testing.T) {
	at := time.UnixMilli(1709715600123)
	assert.Equal(t, "u1-1709715600123-photo.png", ObjectName("u1", at, "photo.png"))
	assert.Equal(t, "u1-1709715600123-photo.png", ObjectName("u1", at, `C:\Users\me\photo.png`))
	assert.Equal(t, "u1-1709715600123-attachment", ObjectName("u1", at, ""))
}

func TestUploaderStoresAndReturnsPublicURL(t *testing.T) {
	store := NewMemory("https://files.campus.test/chat_uploads/")
	u := NewUploader(store, 1024)
	u.now = func() time.Time { return time.UnixMilli(42) }

	url, err := u.Upload(context.Background(), "u1", File{Name: "lamp.jpg", Size: 5, Body: strings.NewReader("image")})
	require.NoError(t, err)
	assert.Equal(t, "https://files.campus.test/chat_uploads/u1-42-lamp.jpg", url)

	body, contentType, ok := store.Object("u1-42-lamp.jpg")
	require.True(t, ok)
	assert.Equal(t, "image", string(body))
	assert.Equal(t, "image/jpeg", contentType)
}

func TestUploaderRejectsBeforeUpload(t *testing.T) {
	store := NewMemory("https://files.campus.test")
	store.Fail(errors.New("must not be called"))
	u := NewUploader(store, 4)

	_, err := u.Upload(context.Background(), "u1", File{Name: "big.mp4", Size: 5, Body: strings.NewReader("12345")})
	assert.True(t, chat.IsValidation(err))

	_, err = u.Upload(context.Background(), "u1", File{Name: "empty.txt", Size: 0, Body: strings.NewReader("")})
	assert.True(t, chat.IsValidation(err))

	_, err = u.Upload(context.Background(), "", File{Name: "a.txt", Size: 1, Body: strings.NewReader("a")})
	assert.ErrorIs(t, err, chat.ErrNotAuthenticated)
}

func TestUploaderReportsStoreFailure(t *testing.T) {
	store := NewMemory("https://files.campus.test")
	store.Fail(errors.New("bucket unavailable"))
	u := NewUploader(store, 0)
	before := gatewayFailureCount(t, "upload attachment")

	_, err := u.Upload(context.Background(), "u1", File{Name: "a.txt", Size: 1, Body: strings.NewReader("a")})
	var gerr *chat.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "upload attachment", gerr.Op)
	assert.Equal(t, before+1, gatewayFailureCount(t, "upload attachment"))
}

func TestUploaderRejectsBodyLargerThanDeclared(t *testing.T) {
	store := NewMemory("https://files.campus.test")
	u := NewUploader(store, 8)
	u.now = func() time.Time { return time.UnixMilli(7) }

	_, err := u.Upload(context.Background(), "u1", File{Name: "lie.bin", Size: 3, Body: strings.NewReader("0123456789")})
	assert.True(t, chat.IsValidation(err))
	_, _, ok := store.Object("u1-7-lie.bin")
	assert.False(t, ok)

	// A body exactly at the limit is kept whole.
	_, err = u.Upload(context.Background(), "u1", File{Name: "full.bin", Size: 3, Body: strings.NewReader("01234567")})
	require.NoError(t, err)
	body, _, ok := store.Object("u1-7-full.bin")
	require.True(t, ok)
	assert.Equal(t, "01234567", string(body))
}

// gatewayFailureCount reads chat_gateway_failures_total for op from the default
// registry.
func gatewayFailureCount(t *testing.T, op string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "chat_gateway_failures_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "op" && lp.GetValue() == op {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
