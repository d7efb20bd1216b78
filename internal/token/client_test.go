package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/astraea-labs/astraea/internal/protocol"
)

func TestMintReturnsCredentialAndRecommendedConfig(t *testing.T) {
	var gotBody mintRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":      "tok",
			"expires_at": 1700000060,
			"session_config": map[string]any{
				"model": "m1",
				"audio": map[string]any{
					"output": map[string]any{"voice": "sage", "speed": 1.1},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	cred, err := c.Mint(context.Background(), &protocol.SessionConfig{Instructions: "horary"})
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if cred.Secret != "tok" {
		t.Fatalf("Secret = %q, want %q", cred.Secret, "tok")
	}
	if cred.Recommended.Model != "m1" {
		t.Fatalf("Recommended.Model = %q, want %q", cred.Recommended.Model, "m1")
	}
	if gotBody.Session == nil || gotBody.Session.Instructions != "horary" {
		t.Fatalf("request should carry session overrides, got %+v", gotBody.Session)
	}
}

func TestMintFallsBackToSessionField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":      "tok",
			"expires_at": 1700000060,
			"session":    map[string]any{"model": "m2"},
		})
	}))
	defer srv.Close()

	cred, err := NewClient(srv.URL).Mint(context.Background(), nil)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if cred.Recommended.Model != "m2" {
		t.Fatalf("Recommended.Model = %q, want %q", cred.Recommended.Model, "m2")
	}
}

func TestMintHTTPErrorCarriesStatusAndRetryability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "backend down"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Mint(context.Background(), nil)
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *token.Error", err)
	}
	if terr.Reason != ReasonHTTPError || terr.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected error: %+v", terr)
	}
	if !terr.Retryable {
		t.Fatalf("503 should be classified retryable")
	}
	if terr.Detail != "backend down" {
		t.Fatalf("Detail = %q, want backend error message", terr.Detail)
	}
}

func TestMintMissingSecretIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"expires_at": 1700000060})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Mint(context.Background(), nil)
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *token.Error", err)
	}
	if terr.Reason != ReasonMalformedResponse {
		t.Fatalf("Reason = %q, want %q", terr.Reason, ReasonMalformedResponse)
	}
}
