package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textlane/dispatchd/config"
)

func newTestGateway(serverURL string) *HTTPGateway {
	return NewHTTPGateway(config.GatewayConfig{
		BaseURL: serverURL,
		APIKey:  "test-api-key",
		Timeout: 2 * time.Second,
	})
}

func TestHTTPGatewaySendSuccess(t *testing.T) {
	var gotAuth string
	var gotReq gatewaySendRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/messages", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "msg-123"})
	}))
	defer server.Close()

	gateway := newTestGateway(server.URL)
	result, err := gateway.Send(context.Background(), "+15550009999", "+15550000001", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-123", result.GatewayMessageID)
	assert.Equal(t, "Bearer test-api-key", gotAuth)
	assert.Equal(t, gatewaySendRequest{Sender: "+15550009999", Recipient: "+15550000001", Body: "hello"}, gotReq)
}

func TestHTTPGatewaySendErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		code      string
	}{
		{
			name:      "rate limited is transient",
			status:    http.StatusTooManyRequests,
			transient: true,
			code:      "http_429",
		},
		{
			name:      "server error is transient",
			status:    http.StatusBadGateway,
			transient: true,
			code:      "http_502",
		},
		{
			name:      "client error is permanent",
			status:    http.StatusUnprocessableEntity,
			transient: false,
			code:      "http_422",
		},
		{
			name:      "provider-level rejection is permanent",
			status:    http.StatusOK,
			body:      `{"message_id":"","error_code":"invalid_recipient","description":"number not routable"}`,
			transient: false,
			code:      "invalid_recipient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != "" {
					_, _ = w.Write([]byte(tt.body))
				}
			}))
			defer server.Close()

			gateway := newTestGateway(server.URL)
			_, err := gateway.Send(context.Background(), "+15550009999", "+15550000001", "hello")
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransientSendError(err))

			var sendErr *SendError
			require.ErrorAs(t, err, &sendErr)
			assert.Equal(t, tt.code, sendErr.Code)
		})
	}
}

func TestHTTPGatewayNetworkFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // refuse all connections

	gateway := newTestGateway(server.URL)
	_, err := gateway.Send(context.Background(), "+15550009999", "+15550000001", "hello")
	require.Error(t, err)
	assert.True(t, IsTransientSendError(err))
}

func TestMockGatewayFailEvery(t *testing.T) {
	gateway := NewMockGateway(3)

	var failures int
	for i := 0; i < 9; i++ {
		if _, err := gateway.Send(context.Background(), "s", "r", "b"); err != nil {
			failures++
			assert.True(t, IsTransientSendError(err))
		}
	}
	assert.Equal(t, 3, failures)
	assert.Len(t, gateway.Sent(), 6)
}

func TestLocalLease(t *testing.T) {
	lease := NewLocalLease()
	ctx := context.Background()

	token, ok, err := lease.Acquire(ctx, "entry:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	// Second acquire on a held key is refused.
	_, ok, err = lease.Acquire(ctx, "entry:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Holder renews; a stranger's token does not.
	renewed, err := lease.Renew(ctx, "entry:1", token, time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed)
	renewed, err = lease.Renew(ctx, "entry:1", "not-the-token", time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)

	// Released key is free again.
	require.NoError(t, lease.Release(ctx, "entry:1", token))
	_, ok, err = lease.Acquire(ctx, "entry:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLeaseExpiry(t *testing.T) {
	lease := NewLocalLease()
	ctx := context.Background()

	token, ok, err := lease.Acquire(ctx, "entry:2", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)

	// Expired lease can be taken over and the old token cannot renew.
	_, ok, err = lease.Acquire(ctx, "entry:2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	renewed, err := lease.Renew(ctx, "entry:2", token, time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)
}
