// Package media abstracts local camera/microphone capture behind small
// capability interfaces, so the call session can be driven by real devices
// in production and by fakes in tests.
//
// The real implementation is backed by pion/mediadevices. Hardware capture
// is only available where its drivers are (see capture_linux.go); on other
// platforms GetUserMedia reports ErrCaptureUnsupported, which surfaces to
// the user as a media-access failure.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrCaptureUnsupported is returned by GetUserMedia on platforms without
// camera/microphone driver support.
var ErrCaptureUnsupported = errors.New("media capture is not supported on this platform")

// Kind distinguishes audio from video tracks.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is one local capture track. SetEnabled records the mute state
// without releasing the underlying device; the call session propagates it
// to the peer connection, which stops sending the track while disabled.
// Close stops capture for good.
type Track interface {
	Kind() Kind
	Enabled() bool
	SetEnabled(bool)

	// Local exposes the underlying RTP track for attachment to a peer
	// connection. Nil when the track is not backed by a capture device
	// (fakes in tests).
	Local() webrtc.TrackLocal

	Close() error
}

// Stream is a set of tracks acquired together, owned by one call session.
type Stream interface {
	Tracks() []Track
	AudioTracks() []Track
	VideoTracks() []Track

	// Close stops every track, releasing camera and microphone.
	Close()
}

// Devices grants access to local capture hardware. GetUserMedia blocks
// until the devices are acquired, the context expires, or acquisition
// fails (no device, device busy).
type Devices interface {
	GetUserMedia(ctx context.Context) (Stream, error)
}

// NewStream builds a Stream from already-created tracks.
func NewStream(tracks ...Track) Stream {
	return &stream{tracks: tracks}
}

type stream struct {
	tracks []Track
}

func (s *stream) Tracks() []Track { return s.tracks }

func (s *stream) AudioTracks() []Track { return s.byKind(KindAudio) }
func (s *stream) VideoTracks() []Track { return s.byKind(KindVideo) }

func (s *stream) byKind(k Kind) []Track {
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

func (s *stream) Close() {
	for _, t := range s.tracks {
		t.Close()
	}
}
