package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PeerConfig carries the settings for a pion-backed peer connection.
type PeerConfig struct {
	ICEServers []string
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

// NewPeer builds a pion peer connection with a bidirectional audio
// transceiver already in place. Requesting the transceiver before any track
// is added matters: an answerer that only receives tracks may negotiate a
// receive-only media section, and the remote audio never flows back.
func NewPeer(cfg PeerConfig) (Peer, error) {
	conf := webrtc.Configuration{}
	for _, u := range cfg.ICEServers {
		conf.ICEServers = append(conf.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}

	pc, err := webrtc.NewPeerConnection(conf)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	return &pionPeer{pc: pc}, nil
}

func (p *pionPeer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	return offer.SDP, nil
}

func (p *pionPeer) SetLocalDescription(sdp string) error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
}

func (p *pionPeer) LocalDescription() string {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return ""
	}
	return desc.SDP
}

func (p *pionPeer) SetRemoteDescription(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *pionPeer) WaitForICEGathering(ctx context.Context) error {
	select {
	case <-webrtc.GatheringCompletePromise(p.pc):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ice gathering: %w", ctx.Err())
	}
}

func (p *pionPeer) CreateSideChannel(label string) (SideChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &pionChannel{dc: dc}, nil
}

func (p *pionPeer) AddOutboundAudioTrack(mic MicStream) error {
	track := mic.Track()
	if track == nil {
		return errors.New("mic stream has no local track")
	}
	if _, err := p.pc.AddTrack(track); err != nil {
		return fmt.Errorf("add outbound track: %w", err)
	}
	return nil
}

func (p *pionPeer) OnRemoteAudioTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		fn(&pionRemoteTrack{track: track})
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Label() string { return c.dc.Label() }

func (c *pionChannel) Ready() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send writes one UTF-8 JSON control event. The channel delivers messages in
// send order once open.
func (c *pionChannel) Send(b []byte) error {
	return c.dc.SendText(string(b))
}

func (c *pionChannel) OnOpen(fn func()) { c.dc.OnOpen(fn) }

func (c *pionChannel) OnMessage(fn func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *pionChannel) Close() error { return c.dc.Close() }

type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionRemoteTrack) Kind() string { return t.track.Kind().String() }

func (t *pionRemoteTrack) Read(b []byte) (int, error) {
	n, _, err := t.track.Read(b)
	return n, err
}
