package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astraea-labs/astraea/internal/observability"
	"github.com/astraea-labs/astraea/internal/protocol"
	"github.com/astraea-labs/astraea/internal/reliability"
	"github.com/astraea-labs/astraea/internal/token"
	"github.com/astraea-labs/astraea/internal/transport"
)

const defaultSideChannelLabel = "oai-events"

// Notifications are the UI-facing callbacks. Handlers are injected at
// construction; a nil handler is skipped.
type Notifications struct {
	OnConnected     func()
	OnDisconnected  func()
	OnError         func(message string)
	OnResponse      func(text string)
	OnSpeechStarted func()
	OnSpeechStopped func()
}

// Config carries the client-side session overrides layered on top of the
// backend's recommended configuration.
type Config struct {
	Model            string
	Instructions     string
	Voice            string
	Speed            float64
	SampleRate       int
	SideChannelLabel string
	ICEGatherTimeout time.Duration
	AutoConnect      bool
}

// Deps are the session's collaborators, injected explicitly rather than
// reached through globals.
type Deps struct {
	Minter   token.Minter
	Signaler SignalingClient
	Devices  transport.MediaDevices
	NewPeer  transport.PeerFactory
	Sink     transport.AudioSink
	Metrics  *observability.Metrics
	Notify   Notifications
}

// connectionState holds the handles for one live connection. Handles are
// all-or-nothing with connected: a successful handshake commits them
// together, and teardown clears them together.
type connectionState struct {
	connected  bool
	connecting bool
	peer       transport.Peer
	channel    transport.SideChannel
	mic        transport.MicStream
}

// State is the read-only snapshot exposed to the UI.
type State struct {
	SessionID           string                      `json:"session_id"`
	IsConnected         bool                        `json:"is_connected"`
	IsConnecting        bool                        `json:"is_connecting"`
	IsListening         bool                        `json:"is_listening"`
	IsSpeaking          bool                        `json:"is_speaking"`
	HasPermission       bool                        `json:"has_permission"`
	Error               string                      `json:"error,omitempty"`
	CurrentResponseText string                      `json:"current_response_text,omitempty"`
	History             []protocol.ConversationItem `json:"conversation_history"`
}

// Session owns one voice conversation with the remote speech peer: it runs
// the connect handshake, multiplexes control events over the side channel,
// and reconciles them into the UI-facing state.
type Session struct {
	id   string
	cfg  Config
	deps Deps

	mu            sync.Mutex
	attempt       uint64
	conn          connectionState
	listening     bool
	speaking      bool
	hasPermission bool
	lastError     string
	responseText  string
	history       []protocol.ConversationItem
	autoTried     bool
}

func NewSession(id string, cfg Config, deps Deps) *Session {
	if cfg.SideChannelLabel == "" {
		cfg.SideChannelLabel = defaultSideChannelLabel
	}
	return &Session{id: id, cfg: cfg, deps: deps}
}

func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the UI-facing state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]protocol.ConversationItem, len(s.history))
	copy(history, s.history)
	return State{
		SessionID:           s.id,
		IsConnected:         s.conn.connected,
		IsConnecting:        s.conn.connecting,
		IsListening:         s.listening,
		IsSpeaking:          s.speaking,
		HasPermission:       s.hasPermission,
		Error:               s.lastError,
		CurrentResponseText: s.responseText,
		History:             history,
	}
}

// Connect runs one full connection attempt: credential mint, peer and
// microphone setup, SDP negotiation, state commit. Re-entrant calls while
// connecting or connected are no-ops. Failures are recorded into state and
// reported through the error notification rather than returned; every
// failure path runs the shared teardown so nothing leaks.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.conn.connected || s.conn.connecting {
		s.mu.Unlock()
		return
	}
	s.attempt++
	attempt := s.attempt
	s.conn.connecting = true
	s.lastError = ""
	s.mu.Unlock()

	cred, err := s.deps.Minter.Mint(ctx, s.overrideConfigPtr())
	if err != nil {
		s.failConnect(attempt, connectionState{}, "credential_error", err)
		return
	}

	peer, err := s.deps.NewPeer()
	if err != nil {
		s.failConnect(attempt, connectionState{}, "transport_error", err)
		return
	}
	partial := connectionState{peer: peer}

	mic, err := s.deps.Devices.Capture(ctx, transport.DefaultCaptureConstraints(s.cfg.SampleRate))
	if err != nil {
		// Permission denial aborts before any network exchange; the opened
		// peer must not survive as a dangling handle.
		s.failConnect(attempt, partial, "permission_error", err)
		return
	}
	partial.mic = mic

	channel, err := peer.CreateSideChannel(s.cfg.SideChannelLabel)
	if err != nil {
		s.failConnect(attempt, partial, "transport_error", err)
		return
	}
	partial.channel = channel

	merged := protocol.MergeSessionConfig(cred.Recommended, s.overrideConfig())
	channel.OnOpen(func() { s.sendInitialConfig(attempt, channel, merged) })
	channel.OnMessage(func(raw []byte) { s.handleServerEvent(attempt, raw) })
	channel.OnClose(func() { s.shutdown(true, attempt, "remote_channel_close") })
	peer.OnRemoteAudioTrack(func(track transport.RemoteTrack) { s.handleRemoteTrack(attempt, track) })

	if err := peer.AddOutboundAudioTrack(mic); err != nil {
		s.failConnect(attempt, partial, "transport_error", err)
		return
	}

	model := merged.Model
	if model == "" {
		model = s.cfg.Model
	}
	negotiateStart := time.Now()
	if err := negotiate(ctx, peer, s.deps.Signaler, cred.Secret, model, s.cfg.ICEGatherTimeout); err != nil {
		s.failConnect(attempt, partial, "negotiation_error", err)
		return
	}
	s.deps.Metrics.ObserveNegotiationLatency(time.Since(negotiateStart))

	s.mu.Lock()
	if s.attempt != attempt {
		// A disconnect raced the handshake. The late answer must not revive
		// a torn-down connection.
		s.mu.Unlock()
		teardown(&partial, s.deps.Sink)
		s.deps.Metrics.ConnectAttempts.WithLabelValues("superseded").Inc()
		return
	}
	partial.connected = true
	s.conn = partial
	s.hasPermission = true
	s.mu.Unlock()

	s.deps.Metrics.ConnectAttempts.WithLabelValues("connected").Inc()
	s.deps.Metrics.SessionEvents.WithLabelValues("connected").Inc()
	if s.deps.Notify.OnConnected != nil {
		s.deps.Notify.OnConnected()
	}
}

// Disconnect tears the connection down and returns the session to idle.
// Safe to call at any time, including mid-connect and when already idle.
func (s *Session) Disconnect() {
	s.shutdown(false, 0, "disconnected")
}

// MaybeAutoConnect performs the attempt-once auto-connect. A failed attempt
// does not retry; a disconnect clears the guard so a later manual connect
// still works.
func (s *Session) MaybeAutoConnect(ctx context.Context) {
	if !s.cfg.AutoConnect {
		return
	}
	s.mu.Lock()
	if s.autoTried {
		s.mu.Unlock()
		return
	}
	s.autoTried = true
	s.mu.Unlock()

	s.deps.Metrics.SessionEvents.WithLabelValues("auto_connect").Inc()
	s.Connect(ctx)
}

// SendMessage submits querent text. Creating the item alone does not trigger
// generation, so an explicit response.create follows. Spoken input has no
// such follow-up: server-side VAD responds on detected speech end.
func (s *Session) SendMessage(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	item := protocol.NewUserMessage(uuid.NewString(), text)
	s.send(protocol.ConversationItemCreate{Type: protocol.TypeConversationItemCreate, Item: item})
	s.send(protocol.ResponseCreate{Type: protocol.TypeResponseCreate})
}

// UpdateSession pushes a configuration change mid-session.
func (s *Session) UpdateSession(cfg protocol.SessionConfig) {
	s.send(protocol.SessionUpdate{Type: protocol.TypeSessionUpdate, Session: cfg})
}

// ToggleMute flips enablement on the existing microphone track. The stream
// is never stopped or re-acquired for a mute.
func (s *Session) ToggleMute() {
	s.mu.Lock()
	mic := s.conn.mic
	s.mu.Unlock()
	if mic == nil {
		return
	}
	mic.SetEnabled(!mic.Enabled())
}

// Muted reports whether the microphone track is currently disabled.
func (s *Session) Muted() bool {
	s.mu.Lock()
	mic := s.conn.mic
	s.mu.Unlock()
	if mic == nil {
		return false
	}
	return !mic.Enabled()
}

// ClearConversation empties the history. This is the only way the history
// shrinks; disconnects leave it intact.
func (s *Session) ClearConversation() {
	s.mu.Lock()
	s.history = nil
	s.responseText = ""
	s.mu.Unlock()
}

// Manual-commit senders for sessions running without server-side VAD. The
// default configuration never needs them.
func (s *Session) AppendAudio(audioBase64 string) {
	s.send(protocol.InputAudioBufferAppend{Type: protocol.TypeInputAudioBufferAppend, Audio: audioBase64})
}

func (s *Session) CommitAudio() {
	s.send(protocol.InputAudioBufferCommit{Type: protocol.TypeInputAudioBufferCommit})
}

func (s *Session) ClearAudio() {
	s.send(protocol.InputAudioBufferClear{Type: protocol.TypeInputAudioBufferClear})
}

func (s *Session) overrideConfig() protocol.SessionConfig {
	cfg := protocol.SessionConfig{
		Model:        s.cfg.Model,
		Instructions: s.cfg.Instructions,
	}
	if s.cfg.Voice == "" && s.cfg.Speed <= 0 && s.cfg.SampleRate <= 0 {
		return cfg
	}
	audio := &protocol.AudioConfig{}
	if s.cfg.SampleRate > 0 {
		audio.Input = &protocol.InputAudio{Format: "pcm16", SampleRate: s.cfg.SampleRate}
	}
	if s.cfg.Voice != "" || s.cfg.Speed > 0 {
		audio.Output = &protocol.OutputAudio{Voice: s.cfg.Voice, Speed: s.cfg.Speed}
	}
	cfg.Audio = audio
	return cfg
}

func (s *Session) overrideConfigPtr() *protocol.SessionConfig {
	cfg := s.overrideConfig()
	return &cfg
}

// failConnect runs the shared teardown on whatever handles the attempt had
// opened and records the failure, unless a newer attempt or a disconnect has
// already superseded this one.
func (s *Session) failConnect(attempt uint64, partial connectionState, outcome string, err error) {
	s.mu.Lock()
	stale := s.attempt != attempt
	if !stale {
		// Bump before teardown so the channel close callback fired by it
		// cannot masquerade as a remote disconnect.
		s.attempt++
		s.conn = connectionState{}
		s.lastError = err.Error()
		var perm *transport.PermissionError
		if errors.As(err, &perm) {
			s.hasPermission = false
		}
	}
	s.mu.Unlock()

	teardown(&partial, s.deps.Sink)
	s.deps.Metrics.ConnectAttempts.WithLabelValues(outcome).Inc()
	if stale {
		return
	}

	log.Printf("session %s: connect failed: %v", s.id, err)
	if s.deps.Notify.OnError != nil {
		s.deps.Notify.OnError(err.Error())
	}
}

// shutdown is the single disconnect path shared by explicit disconnects and
// remote channel closes. Bumping the attempt counter invalidates any
// in-flight connect continuation.
func (s *Session) shutdown(checkAttempt bool, attempt uint64, event string) {
	s.mu.Lock()
	if checkAttempt && s.attempt != attempt {
		s.mu.Unlock()
		return
	}
	s.attempt++
	c := s.conn
	wasActive := c.connected || c.connecting
	wasConnected := c.connected
	s.conn = connectionState{}
	s.listening = false
	s.speaking = false
	s.lastError = ""
	s.responseText = ""
	s.autoTried = false
	s.mu.Unlock()

	teardown(&c, s.deps.Sink)
	if !wasActive {
		return
	}
	s.deps.Metrics.SessionEvents.WithLabelValues(event).Inc()
	// A session that never reported connected must not report disconnected;
	// an aborted handshake surfaces through the error notification instead.
	if wasConnected && s.deps.Notify.OnDisconnected != nil {
		s.deps.Notify.OnDisconnected()
	}
}

// teardown releases connection resources in a fixed order: side channel,
// peer, microphone tracks, output sink. It tolerates nil handles and
// repeated invocation, so explicit disconnects, remote closes, and
// failure-path cleanup all share it.
func teardown(c *connectionState, sink transport.AudioSink) {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.peer != nil {
		_ = c.peer.Close()
	}
	if c.mic != nil {
		c.mic.Stop()
	}
	if sink != nil {
		sink.Detach()
	}
	*c = connectionState{}
}

func (s *Session) sendInitialConfig(attempt uint64, ch transport.SideChannel, cfg protocol.SessionConfig) {
	s.mu.Lock()
	stale := s.attempt != attempt
	s.mu.Unlock()
	if stale {
		return
	}
	s.sendOn(ch, protocol.SessionUpdate{Type: protocol.TypeSessionUpdate, Session: cfg})
}

// send emits one outbound event on the current side channel. Sending while
// the channel is not open is a silent no-op; all delivery is
// fire-and-forget.
func (s *Session) send(ev any) {
	s.mu.Lock()
	ch := s.conn.channel
	s.mu.Unlock()
	s.sendOn(ch, ev)
}

func (s *Session) sendOn(ch transport.SideChannel, ev any) {
	if ch == nil || !ch.Ready() {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("session %s: marshal outbound event: %v", s.id, err)
		return
	}
	if err := ch.Send(raw); err != nil {
		return
	}
	if t, ok := eventTypeOf(ev); ok {
		s.deps.Metrics.ChannelMessages.WithLabelValues("outbound", string(t)).Inc()
	}
}

func (s *Session) handleRemoteTrack(attempt uint64, track transport.RemoteTrack) {
	s.mu.Lock()
	stale := s.attempt != attempt
	s.mu.Unlock()
	if stale || s.deps.Sink == nil {
		return
	}
	s.deps.Sink.Attach(track)
}

// handleServerEvent is the single dispatch point for inbound control events.
// A malformed payload drops only that one message; unknown discriminants are
// skipped silently.
func (s *Session) handleServerEvent(attempt uint64, raw []byte) {
	s.mu.Lock()
	stale := s.attempt != attempt
	s.mu.Unlock()
	if stale {
		return
	}

	ev, err := protocol.ParseServerEvent(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedType) {
			return
		}
		log.Printf("session %s: dropping malformed server event: %v", s.id, err)
		return
	}
	if t, ok := eventTypeOf(ev); ok {
		s.deps.Metrics.ChannelMessages.WithLabelValues("inbound", string(t)).Inc()
	}

	switch ev := ev.(type) {
	case protocol.SessionCreated:
		log.Printf("session %s: remote session created (model %s)", s.id, ev.Session.Model)
	case protocol.SessionUpdated:
		log.Printf("session %s: remote session updated", s.id)
	case protocol.ConversationItemCreated:
		s.mu.Lock()
		s.history = append(s.history, ev.Item)
		s.mu.Unlock()
	case protocol.ResponseCreated:
		s.mu.Lock()
		s.speaking = true
		s.mu.Unlock()
	case protocol.ResponseTextDelta:
		s.mu.Lock()
		s.responseText += ev.Delta
		s.mu.Unlock()
	case protocol.ResponseDone:
		s.mu.Lock()
		s.speaking = false
		s.responseText = ""
		s.mu.Unlock()
		if text := protocol.AssistantText(ev.Response.Output); text != "" && s.deps.Notify.OnResponse != nil {
			s.deps.Notify.OnResponse(text)
		}
	case protocol.SpeechStarted:
		s.mu.Lock()
		s.listening = true
		s.mu.Unlock()
		if s.deps.Notify.OnSpeechStarted != nil {
			s.deps.Notify.OnSpeechStarted()
		}
	case protocol.SpeechStopped:
		s.mu.Lock()
		s.listening = false
		s.mu.Unlock()
		if s.deps.Notify.OnSpeechStopped != nil {
			s.deps.Notify.OnSpeechStopped()
		}
	case protocol.ServerError:
		msg := fmt.Sprintf("%s: %s", ev.Error.Type, ev.Error.Message)
		s.mu.Lock()
		s.lastError = msg
		s.mu.Unlock()
		retryable := "false"
		if reliability.IsRetryableRemoteErrorType(ev.Error.Type) {
			retryable = "true"
		}
		s.deps.Metrics.RemoteErrors.WithLabelValues(ev.Error.Type, retryable).Inc()
		// Informational only: the session stays up unless the channel or
		// peer also closes.
		if s.deps.Notify.OnError != nil {
			s.deps.Notify.OnError(msg)
		}
	}
}

func eventTypeOf(v any) (protocol.EventType, bool) {
	switch ev := v.(type) {
	case protocol.SessionUpdate:
		return ev.Type, true
	case protocol.ConversationItemCreate:
		return ev.Type, true
	case protocol.ResponseCreate:
		return ev.Type, true
	case protocol.InputAudioBufferAppend:
		return ev.Type, true
	case protocol.InputAudioBufferCommit:
		return ev.Type, true
	case protocol.InputAudioBufferClear:
		return ev.Type, true
	case protocol.SessionCreated:
		return ev.Type, true
	case protocol.SessionUpdated:
		return ev.Type, true
	case protocol.ConversationItemCreated:
		return ev.Type, true
	case protocol.ResponseCreated:
		return ev.Type, true
	case protocol.ResponseDone:
		return ev.Type, true
	case protocol.ResponseTextDelta:
		return ev.Type, true
	case protocol.SpeechStarted:
		return ev.Type, true
	case protocol.SpeechStopped:
		return ev.Type, true
	case protocol.ServerError:
		return ev.Type, true
	default:
		return "", false
	}
}
