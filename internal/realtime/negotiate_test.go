package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/astraea-labs/astraea/internal/transport"
)

func TestHTTPSignalerExchange(t *testing.T) {
	var gotAuth, gotContentType, gotModel, gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		if r.URL.Path != "/v1/realtime/calls" {
			t.Errorf("path = %q, want /v1/realtime/calls", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/sdp")
		_, _ = w.Write([]byte("v=0\r\no=- answer\r\n"))
	}))
	defer backend.Close()

	s := NewHTTPSignaler(backend.URL + "/")
	answer, err := s.ExchangeOffer(context.Background(), "v=0\r\no=- offer\r\n", "ek_abc", "gpt-realtime")
	if err != nil {
		t.Fatalf("ExchangeOffer: %v", err)
	}
	if answer != "v=0\r\no=- answer\r\n" {
		t.Fatalf("answer = %q", answer)
	}
	if gotAuth != "Bearer ek_abc" {
		t.Fatalf("Authorization = %q, want Bearer ek_abc", gotAuth)
	}
	if gotContentType != "application/sdp" {
		t.Fatalf("Content-Type = %q, want application/sdp", gotContentType)
	}
	if gotModel != "gpt-realtime" {
		t.Fatalf("model query = %q, want gpt-realtime", gotModel)
	}
	if gotBody != "v=0\r\no=- offer\r\n" {
		t.Fatalf("posted body = %q", gotBody)
	}
}

func TestHTTPSignalerRejection(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"upstream error", http.StatusBadGateway, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "no", tc.status)
			}))
			defer backend.Close()

			s := NewHTTPSignaler(backend.URL)
			_, err := s.ExchangeOffer(context.Background(), "offer", "ek", "m")
			var negErr *NegotiationError
			if !errors.As(err, &negErr) {
				t.Fatalf("error = %v, want *NegotiationError", err)
			}
			if negErr.Status != tc.status {
				t.Fatalf("Status = %d, want %d", negErr.Status, tc.status)
			}
			if negErr.Retryable != tc.wantRetryable {
				t.Fatalf("Retryable = %v, want %v", negErr.Retryable, tc.wantRetryable)
			}
		})
	}
}

func TestNegotiateAppliesAnswer(t *testing.T) {
	peer := transport.NewMockPeer()
	sig := &fakeSignaler{}
	if err := negotiate(context.Background(), peer, sig, "ek", "gpt-realtime", time.Second); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if sig.calls != 1 {
		t.Fatalf("exchange calls = %d, want 1", sig.calls)
	}
	if peer.LocalDescription() == "" {
		t.Fatalf("local description not set before exchange")
	}
}

func TestNegotiateGatheringFailure(t *testing.T) {
	peer := transport.NewMockPeer()
	peer.FailGathering = true
	sig := &fakeSignaler{}
	if err := negotiate(context.Background(), peer, sig, "ek", "m", time.Second); err == nil {
		t.Fatalf("negotiate succeeded despite gathering failure")
	}
	if sig.calls != 0 {
		t.Fatalf("offer sent despite incomplete gathering")
	}
}

func TestNegotiateSignalingFailure(t *testing.T) {
	peer := transport.NewMockPeer()
	sig := &fakeSignaler{err: &NegotiationError{Status: 500, Body: "boom", Retryable: true}}
	err := negotiate(context.Background(), peer, sig, "ek", "m", 0)
	var negErr *NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("error = %v, want *NegotiationError", err)
	}
}
