package httpapi

import (
	"sync"

	"github.com/astraea-labs/astraea/internal/realtime"
)

// Event is one UI-facing notification pushed over the events websocket.
type Event struct {
	Type      string `json:"type"` // connected | disconnected | error | response | speech_started | speech_stopped
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Hub fans session notifications out to websocket subscribers. Subscribers
// get a buffered channel; a slow consumer drops events rather than blocking
// the session callbacks.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	set := h.subs[ev.SessionID]
	chans := make([]chan Event, 0, len(set))
	for ch := range set {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
}

// NotificationsFor adapts the hub into the session callback set for one
// session id.
func (h *Hub) NotificationsFor(sessionID string) realtime.Notifications {
	return realtime.Notifications{
		OnConnected: func() {
			h.Publish(Event{Type: "connected", SessionID: sessionID})
		},
		OnDisconnected: func() {
			h.Publish(Event{Type: "disconnected", SessionID: sessionID})
		},
		OnError: func(msg string) {
			h.Publish(Event{Type: "error", SessionID: sessionID, Message: msg})
		},
		OnResponse: func(text string) {
			h.Publish(Event{Type: "response", SessionID: sessionID, Text: text})
		},
		OnSpeechStarted: func() {
			h.Publish(Event{Type: "speech_started", SessionID: sessionID})
		},
		OnSpeechStopped: func() {
			h.Publish(Event{Type: "speech_stopped", SessionID: sessionID})
		},
	}
}
