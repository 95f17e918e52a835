package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/textlane/dispatchd/config"
)

// SendResult carries the gateway's acknowledgement of a single submission
type SendResult struct {
	GatewayMessageID string
}

// SendError is a failed submission. Transient errors (timeouts, 5xx, 429)
// are worth retrying; permanent ones (bad recipient, rejected content) are
// not.
type SendError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway send failed (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway send failed: %s", e.Message)
}

// IsTransientSendError reports whether err is a SendError marked transient
func IsTransientSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Transient
}

// Gateway submits a single rendered message to the upstream SMS provider
type Gateway interface {
	Send(ctx context.Context, sender, recipient, body string) (*SendResult, error)
}

type gatewaySendRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

type gatewaySendResponse struct {
	MessageID string  `json:"message_id"`
	ErrorCode *string `json:"error_code"`
	Desc      *string `json:"description"`
}

// HTTPGateway talks to the provider's REST submission endpoint
type HTTPGateway struct {
	cfg    config.GatewayConfig
	client *http.Client
}

func NewHTTPGateway(cfg config.GatewayConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (g *HTTPGateway) Send(ctx context.Context, sender, recipient, body string) (*SendResult, error) {
	payload, err := json.Marshal(gatewaySendRequest{
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
	})
	if err != nil {
		return nil, err
	}

	url := g.cfg.BaseURL + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := g.client.Do(req)
	if err != nil {
		// Network errors and timeouts are worth retrying
		return nil, &SendError{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &SendError{
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Message:   "provider unavailable",
			Transient: true,
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &SendError{
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
			Message: "submission rejected",
		}
	}

	var out gatewaySendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &SendError{Message: fmt.Sprintf("decode response: %v", err), Transient: true}
	}
	if out.ErrorCode != nil {
		msg := "submission rejected"
		if out.Desc != nil {
			msg = *out.Desc
		}
		return nil, &SendError{Code: *out.ErrorCode, Message: msg}
	}
	return &SendResult{GatewayMessageID: out.MessageID}, nil
}

// MockGateway acknowledges every message without touching the network. When
// FailEvery is n > 0, every n-th send fails with a transient error; useful
// for exercising retry paths in development.
type MockGateway struct {
	FailEvery int

	mu    sync.Mutex
	count int
	sent  []MockSentMessage
}

// MockSentMessage records one accepted submission
type MockSentMessage struct {
	Sender    string
	Recipient string
	Body      string
}

func NewMockGateway(failEvery int) *MockGateway {
	return &MockGateway{FailEvery: failEvery}
}

func (g *MockGateway) Send(_ context.Context, sender, recipient, body string) (*SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	if g.FailEvery > 0 && g.count%g.FailEvery == 0 {
		return nil, &SendError{Code: "mock_fail", Message: "simulated failure", Transient: true}
	}
	g.sent = append(g.sent, MockSentMessage{Sender: sender, Recipient: recipient, Body: body})
	return &SendResult{GatewayMessageID: uuid.NewString()}, nil
}

// Sent returns a copy of all accepted submissions
func (g *MockGateway) Sent() []MockSentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]MockSentMessage, len(g.sent))
	copy(out, g.sent)
	return out
}
