package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
)

// PeerConnection is the narrow peer-connection surface the session drives.
// The production implementation wraps pion (internal/webrtc); tests supply
// fakes, so the negotiation logic runs without a real media/network stack.
type PeerConnection interface {
	AddTrack(media.Track) error
	SetTrackEnabled(media.Track, bool) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(*webrtc.ICECandidate))
	OnRemoteTrack(func(kind media.Kind, id string))
	OnStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

// PeerFactory creates the session's peer connection. Called at most once
// per session.
type PeerFactory func() (PeerConnection, error)

// Signaler is the outbound half of the signaling channel as seen by a
// session. Sends are best-effort: a failed send aborts at most the current
// call attempt, never the hosting client.
type Signaler interface {
	SendIncomingCall() error
	SendOffer(webrtc.SessionDescription) error
	SendAnswer(webrtc.SessionDescription) error
	SendCandidate(webrtc.ICECandidateInit) error
	SendEndCall() error
}
