package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/astraea-labs/astraea/internal/protocol"
	"github.com/astraea-labs/astraea/internal/reliability"
)

// Credential is a short-lived bearer secret minted per connection attempt.
// It authorizes exactly one negotiation and is discarded afterwards;
// reconnects must mint a fresh one.
type Credential struct {
	Secret      string
	ExpiresAt   time.Time
	Recommended protocol.SessionConfig
}

const (
	ReasonHTTPError         = "http_error"
	ReasonMalformedResponse = "malformed_response"
)

// Error reports a failed credential mint. No retry is attempted here; the
// caller decides whether Retryable failures are worth another attempt.
type Error struct {
	Reason    string
	Status    int
	Retryable bool
	Detail    string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("credential mint failed (%s, status %d): %s", e.Reason, e.Status, e.Detail)
	}
	return fmt.Sprintf("credential mint failed (%s): %s", e.Reason, e.Detail)
}

// Minter mints one credential per connection attempt.
type Minter interface {
	Mint(ctx context.Context, overrides *protocol.SessionConfig) (Credential, error)
}

// Client talks to the trusted token-minting backend.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type mintRequest struct {
	Session *protocol.SessionConfig `json:"session,omitempty"`
}

type mintResponse struct {
	Value         string                  `json:"value"`
	ExpiresAt     int64                   `json:"expires_at"`
	Session       *protocol.SessionConfig `json:"session"`
	SessionConfig *protocol.SessionConfig `json:"session_config"`
	ErrMsg        string                  `json:"error"`
}

func (c *Client) Mint(ctx context.Context, overrides *protocol.SessionConfig) (Credential, error) {
	payload, err := json.Marshal(mintRequest{Session: overrides})
	if err != nil {
		return Credential{}, fmt.Errorf("marshal mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Credential{}, fmt.Errorf("create mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Credential{}, &Error{Reason: ReasonHTTPError, Retryable: true, Detail: err.Error()}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Credential{}, &Error{Reason: ReasonHTTPError, Status: res.StatusCode, Detail: err.Error()}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail := strings.TrimSpace(string(body))
		var parsed mintResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.ErrMsg != "" {
			detail = parsed.ErrMsg
		}
		return Credential{}, &Error{
			Reason:    ReasonHTTPError,
			Status:    res.StatusCode,
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
			Detail:    detail,
		}
	}

	var parsed mintResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Credential{}, &Error{Reason: ReasonMalformedResponse, Status: res.StatusCode, Detail: err.Error()}
	}
	if strings.TrimSpace(parsed.Value) == "" {
		return Credential{}, &Error{Reason: ReasonMalformedResponse, Status: res.StatusCode, Detail: "response missing secret value"}
	}

	recommended := protocol.SessionConfig{}
	if parsed.SessionConfig != nil {
		recommended = *parsed.SessionConfig
	} else if parsed.Session != nil {
		recommended = *parsed.Session
	}

	return Credential{
		Secret:      parsed.Value,
		ExpiresAt:   time.Unix(parsed.ExpiresAt, 0),
		Recommended: recommended,
	}, nil
}
