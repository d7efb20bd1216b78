package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// MockPeer is a network-free peer used in tests and in the "mock" transport
// mode, where the binary runs without hardware or connectivity.
type MockPeer struct {
	mu        sync.Mutex
	localSDP  string
	remoteSDP string
	channel   *MockChannel
	mic       MicStream
	onRemote  func(RemoteTrack)
	closed    bool

	// OpenChannelOnAnswer marks the side channel open as soon as the remote
	// description is applied, imitating a fast datachannel handshake.
	OpenChannelOnAnswer bool
	FailGathering       bool
}

func NewMockPeer() *MockPeer { return &MockPeer{OpenChannelOnAnswer: true} }

func (p *MockPeer) CreateOffer() (string, error) {
	return "v=0\r\no=- mock offer\r\n", nil
}

func (p *MockPeer) SetLocalDescription(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localSDP = sdp
	return nil
}

func (p *MockPeer) LocalDescription() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.localSDP
}

func (p *MockPeer) SetRemoteDescription(sdp string) error {
	p.mu.Lock()
	p.remoteSDP = sdp
	ch := p.channel
	open := p.OpenChannelOnAnswer
	p.mu.Unlock()
	if open && ch != nil {
		ch.open()
	}
	return nil
}

func (p *MockPeer) WaitForICEGathering(ctx context.Context) error {
	if p.FailGathering {
		return errors.New("ice gathering: mock failure")
	}
	return ctx.Err()
}

func (p *MockPeer) CreateSideChannel(label string) (SideChannel, error) {
	ch := &MockChannel{label: label}
	p.mu.Lock()
	p.channel = ch
	p.mu.Unlock()
	return ch, nil
}

func (p *MockPeer) AddOutboundAudioTrack(mic MicStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mic = mic
	return nil
}

func (p *MockPeer) OnRemoteAudioTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemote = fn
}

func (p *MockPeer) Close() error {
	p.mu.Lock()
	ch := p.channel
	p.closed = true
	p.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
	return nil
}

func (p *MockPeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Channel returns the side channel created on this peer, if any.
func (p *MockPeer) Channel() *MockChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

// EmitRemoteTrack invokes the registered remote-track handler, imitating the
// remote peer starting to send audio.
func (p *MockPeer) EmitRemoteTrack(track RemoteTrack) {
	p.mu.Lock()
	fn := p.onRemote
	p.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

// MockChannel records sent frames and lets tests deliver inbound ones.
type MockChannel struct {
	mu        sync.Mutex
	label     string
	opened    bool
	closed    bool
	sent      [][]byte
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
}

func (c *MockChannel) Label() string { return c.label }

func (c *MockChannel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened && !c.closed
}

func (c *MockChannel) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened || c.closed {
		return errors.New("side channel not open")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *MockChannel) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

func (c *MockChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *MockChannel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *MockChannel) Close() error {
	c.mu.Lock()
	wasOpen := c.opened && !c.closed
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if wasOpen && fn != nil {
		fn()
	}
	return nil
}

func (c *MockChannel) open() {
	c.mu.Lock()
	c.opened = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deliver feeds one inbound event through the registered message handler.
func (c *MockChannel) Deliver(raw []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

// Sent returns copies of all frames written so far.
func (c *MockChannel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// MockDevices hands out MockMic streams, or denies permission.
type MockDevices struct {
	mu       sync.Mutex
	Deny     bool
	captures int
}

func (d *MockDevices) Capture(_ context.Context, _ CaptureConstraints) (MicStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Deny {
		return nil, &PermissionError{Cause: errors.New("permission denied")}
	}
	d.captures++
	return &MockMic{enabled: true}, nil
}

func (d *MockDevices) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

type MockMic struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (m *MockMic) Track() webrtc.TrackLocal { return nil }

func (m *MockMic) SetEnabled(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = v
}

func (m *MockMic) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *MockMic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *MockMic) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// MockSink records attach/detach calls.
type MockSink struct {
	mu       sync.Mutex
	attached int
	detached int
}

func (s *MockSink) Attach(RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached++
}

func (s *MockSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached++
}

func (s *MockSink) Attaches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *MockSink) Detaches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}
