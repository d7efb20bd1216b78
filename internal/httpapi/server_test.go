package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/astraea-labs/astraea/internal/config"
	"github.com/astraea-labs/astraea/internal/observability"
	"github.com/astraea-labs/astraea/internal/protocol"
	"github.com/astraea-labs/astraea/internal/realtime"
	"github.com/astraea-labs/astraea/internal/token"
	"github.com/astraea-labs/astraea/internal/transport"
)

type stubMinter struct{}

func (stubMinter) Mint(_ context.Context, _ *protocol.SessionConfig) (token.Credential, error) {
	return token.Credential{
		Secret:      "ek_test",
		ExpiresAt:   time.Now().Add(time.Minute),
		Recommended: protocol.SessionConfig{Model: "gpt-realtime"},
	}, nil
}

type stubSignaler struct{}

func (stubSignaler) ExchangeOffer(_ context.Context, _, _, _ string) (string, error) {
	return "v=0\r\no=- answer\r\n", nil
}

func testServer(t *testing.T) (*Server, *Hub, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	hub := NewHub()
	cfg := config.Config{
		TransportMode:            "mock",
		Model:                    "gpt-realtime",
		SessionInactivityTimeout: time.Minute,
	}
	factory := func(id string) *realtime.Session {
		return realtime.NewSession(id, realtime.Config{Model: cfg.Model}, realtime.Deps{
			Minter:   stubMinter{},
			Signaler: stubSignaler{},
			Devices:  &transport.MockDevices{},
			NewPeer:  func() (transport.Peer, error) { return transport.NewMockPeer(), nil },
			Sink:     &transport.MockSink{},
			Metrics:  metrics,
			Notify:   hub.NotificationsFor(id),
		})
	}
	manager := realtime.NewManager(factory, cfg.SessionInactivityTimeout, metrics)
	return New(cfg, manager, hub, metrics), hub, metrics
}

func createSession(t *testing.T, base string) string {
	t.Helper()
	res, err := http.Post(base+"/v1/session", "application/json", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d, want 201", res.StatusCode)
	}
	var out createSessionResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if out.SessionID == "" {
		t.Fatalf("create response missing session_id")
	}
	return out.SessionID
}

func getState(t *testing.T, base, id string) realtime.State {
	t.Helper()
	res, err := http.Get(base + "/v1/session/" + id + "/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state status = %d, want 200", res.StatusCode)
	}
	var st realtime.State
	if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := createSession(t, ts.URL)

	res, err := http.Post(ts.URL+"/v1/session/"+id+"/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d, want 200", res.StatusCode)
	}

	st := getState(t, ts.URL, id)
	if !st.IsConnected {
		t.Fatalf("IsConnected = false after connect")
	}

	body := bytes.NewBufferString(`{"text":"is the querent's venture favorable?"}`)
	res, err = http.Post(ts.URL+"/v1/session/"+id+"/message", "application/json", body)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("message status = %d, want 202", res.StatusCode)
	}

	res, err = http.Post(ts.URL+"/v1/session/"+id+"/disconnect", "application/json", nil)
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	res.Body.Close()
	if st := getState(t, ts.URL, id); st.IsConnected {
		t.Fatalf("IsConnected = true after disconnect")
	}

	res, err = http.Post(ts.URL+"/v1/session/"+id+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want 200", res.StatusCode)
	}

	res, err = http.Get(ts.URL + "/v1/session/" + id + "/state")
	if err != nil {
		t.Fatalf("state after end: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("state after end status = %d, want 404", res.StatusCode)
	}
}

func TestMuteToggleOverHTTP(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := createSession(t, ts.URL)
	res, _ := http.Post(ts.URL+"/v1/session/"+id+"/connect", "application/json", nil)
	res.Body.Close()

	res, err := http.Post(ts.URL+"/v1/session/"+id+"/mute", "application/json", nil)
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	defer res.Body.Close()
	var out struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode mute response: %v", err)
	}
	if !out.Muted {
		t.Fatalf("muted = false after toggle, want true")
	}
}

func TestMessageValidation(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := createSession(t, ts.URL)
	res, err := http.Post(ts.URL+"/v1/session/"+id+"/message", "application/json", bytes.NewBufferString(`{"text":"   "}`))
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank message status = %d, want 400", res.StatusCode)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/session/nope/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestEventsWebsocketDeliversNotifications(t *testing.T) {
	srv, hub, _ := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := createSession(t, ts.URL)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events websocket: %v", err)
	}
	defer conn.Close()

	hub.Publish(Event{Type: "response", SessionID: id, Text: "The chart favors the querent."})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "response" || ev.Text != "The chart favors the querent." {
		t.Fatalf("event = %+v", ev)
	}
}

func TestEventsWebsocketCountsDisconnectOnClientClose(t *testing.T) {
	srv, _, metrics := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := createSession(t, ts.URL)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events websocket: %v", err)
	}
	conn.Close()

	// The handler observes the close asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if testutil.ToFloat64(metrics.SessionEvents.WithLabelValues("ws_disconnected")) >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ws_disconnected never incremented after client close")
		}
		time.Sleep(5 * time.Millisecond)
	}

	connected := testutil.ToFloat64(metrics.SessionEvents.WithLabelValues("ws_connected"))
	disconnected := testutil.ToFloat64(metrics.SessionEvents.WithLabelValues("ws_disconnected"))
	if connected != disconnected {
		t.Fatalf("ws_connected = %v, ws_disconnected = %v, want equal", connected, disconnected)
	}
}

func TestEventsWebsocketRejectsCrossOrigin(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := createSession(t, ts.URL)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/" + id + "/events"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("cross-origin upgrade succeeded")
	}
	if res != nil && res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", res.StatusCode)
	}
}
