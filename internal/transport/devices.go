package transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const captureFrameDuration = 20 * time.Millisecond

// SampleSource yields encoded audio frames from an input device.
type SampleSource interface {
	Next() (media.Sample, error)
}

// OpenSourceFunc opens a capture source honoring the requested constraints.
// It fails when the device is missing or access is denied.
type OpenSourceFunc func(constraints CaptureConstraints) (SampleSource, error)

// Devices acquires microphone streams backed by a platform capture source.
type Devices struct {
	open OpenSourceFunc
}

func NewDevices(open OpenSourceFunc) *Devices {
	return &Devices{open: open}
}

// Capture acquires the microphone stream. The context bounds acquisition
// only; the returned stream lives until Stop, regardless of what happens to
// the caller's context afterwards.
func (d *Devices) Capture(ctx context.Context, constraints CaptureConstraints) (MicStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := d.open(constraints)
	if err != nil {
		return nil, &PermissionError{Cause: err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	}, "audio", "astraea-mic")
	if err != nil {
		if closer, ok := src.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, err
	}

	s := &captureStream{
		track: track,
		src:   src,
		stop:  make(chan struct{}),
	}
	s.enabled.Store(true)
	go s.pump()
	return s, nil
}

type captureStream struct {
	track    *webrtc.TrackLocalStaticSample
	src      SampleSource
	enabled  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *captureStream) Track() webrtc.TrackLocal { return s.track }

func (s *captureStream) SetEnabled(v bool) { s.enabled.Store(v) }

func (s *captureStream) Enabled() bool { return s.enabled.Load() }

func (s *captureStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if closer, ok := s.src.(io.Closer); ok {
			_ = closer.Close()
		}
	})
}

func (s *captureStream) pump() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		sample, err := s.src.Next()
		if err != nil {
			return
		}
		// A muted stream keeps consuming from the device so unmute resumes
		// instantly, but nothing leaves the track.
		if !s.enabled.Load() {
			continue
		}
		if sample.Duration == 0 {
			sample.Duration = captureFrameDuration
		}
		if err := s.track.WriteSample(sample); err != nil {
			return
		}
	}
}

// SilenceSource emits Opus silence frames at the capture cadence. It serves
// as the outbound audio source when no hardware capture path is wired in,
// keeping the negotiated audio section alive.
type SilenceSource struct{}

// 3-byte packet: Opus DTX/comfort-noise frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func (SilenceSource) Next() (media.Sample, error) {
	time.Sleep(captureFrameDuration)
	return media.Sample{Data: opusSilence, Duration: captureFrameDuration}, nil
}

// DrainSink reads and discards remote audio so the receive buffer keeps
// flowing. Real playback happens in the browser; the gateway only needs to
// keep the track from stalling.
type DrainSink struct {
	mu   sync.Mutex
	stop chan struct{}
}

func NewDrainSink() *DrainSink { return &DrainSink{} }

func (s *DrainSink) Attach(track RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
	}
	stop := make(chan struct{})
	s.stop = stop

	go func() {
		buf := make([]byte, 1500)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (s *DrainSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}
