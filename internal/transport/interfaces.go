package transport

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// CaptureConstraints mirror the capture settings requested from the input
// device before a connection attempt.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
}

// DefaultCaptureConstraints returns the constraints used for voice sessions.
func DefaultCaptureConstraints(sampleRate int) CaptureConstraints {
	return CaptureConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       sampleRate,
	}
}

// PermissionError reports that microphone capture was denied or no input
// device exists. A connect attempt must abort before any network exchange
// when it sees one.
type PermissionError struct {
	Cause error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Cause)
}

func (e *PermissionError) Unwrap() error { return e.Cause }

// MicStream is the captured input stream. Mute toggles enablement on the
// existing track; the stream is never re-acquired for a mute.
type MicStream interface {
	Track() webrtc.TrackLocal
	SetEnabled(bool)
	Enabled() bool
	Stop()
}

// SideChannel is the ordered, reliable message channel multiplexed over the
// peer connection, carrying the structured control events.
type SideChannel interface {
	Label() string
	Ready() bool
	Send([]byte) error
	OnOpen(func())
	OnMessage(func([]byte))
	OnClose(func())
	Close() error
}

// RemoteTrack is inbound media from the remote peer.
type RemoteTrack interface {
	Kind() string
	Read([]byte) (int, error)
}

// AudioSink receives the remote audio track. Detach must tolerate never
// having been attached.
type AudioSink interface {
	Attach(RemoteTrack)
	Detach()
}

// Peer wraps the real-time peer connection primitive.
type Peer interface {
	CreateOffer() (string, error)
	SetLocalDescription(sdp string) error
	// LocalDescription returns the local SDP including gathered candidates;
	// only valid after WaitForICEGathering returns nil.
	LocalDescription() string
	SetRemoteDescription(sdp string) error
	WaitForICEGathering(ctx context.Context) error
	CreateSideChannel(label string) (SideChannel, error)
	AddOutboundAudioTrack(mic MicStream) error
	OnRemoteAudioTrack(func(RemoteTrack))
	Close() error
}

// PeerFactory builds one peer connection per connect attempt.
type PeerFactory func() (Peer, error)

// MediaDevices acquires the microphone stream for a session.
type MediaDevices interface {
	Capture(ctx context.Context, constraints CaptureConstraints) (MicStream, error)
}
