package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/astraea-labs/astraea/internal/reliability"
	"github.com/astraea-labs/astraea/internal/transport"
)

// SignalingClient exchanges a local SDP offer for the remote peer's answer,
// authorized by a per-attempt credential.
type SignalingClient interface {
	ExchangeOffer(ctx context.Context, offerSDP, secret, model string) (string, error)
}

// NegotiationError reports a rejected or failed SDP exchange.
type NegotiationError struct {
	Status    int
	Body      string
	Retryable bool
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("signaling rejected offer (status %d): %s", e.Status, e.Body)
}

// HTTPSignaler posts raw SDP offers to the remote signaling endpoint.
type HTTPSignaler struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSignaler(baseURL string) *HTTPSignaler {
	return &HTTPSignaler{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *HTTPSignaler) ExchangeOffer(ctx context.Context, offerSDP, secret, model string) (string, error) {
	endpoint := s.baseURL + "/v1/realtime/calls?model=" + url.QueryEscape(model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("create signaling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/sdp")

	res, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signaling exchange: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read signaling response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &NegotiationError{
			Status:    res.StatusCode,
			Body:      strings.TrimSpace(string(body)),
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
		}
	}
	return string(body), nil
}

// negotiate drives the offer/answer handshake for one connect attempt. Any
// failure leaves the peer untouched for the caller to tear down; nothing here
// owns resources.
func negotiate(ctx context.Context, peer transport.Peer, signaler SignalingClient, secret, model string, gatherTimeout time.Duration) error {
	offer, err := peer.CreateOffer()
	if err != nil {
		return err
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	// An offer sent before candidate gathering completes risks an incomplete
	// SDP. Gathering can stall indefinitely on restrictive networks, so it
	// runs under an explicit timeout.
	gctx := ctx
	if gatherTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, gatherTimeout)
		defer cancel()
	}
	if err := peer.WaitForICEGathering(gctx); err != nil {
		return err
	}

	answer, err := signaler.ExchangeOffer(ctx, peer.LocalDescription(), secret, model)
	if err != nil {
		return err
	}
	if err := peer.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}
