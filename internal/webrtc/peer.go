// Package webrtc provides helpers for creating PeerConnections for calls.
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
)

// DefaultSTUNServers are used for ICE candidate gathering when the
// configuration does not name any. No TURN — the client is designed for
// direct P2P connectivity with zero infrastructure cost.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Peer wraps a pion PeerConnection behind the narrow surface the call
// session needs, keeping the session logic free of pion specifics and
// fakeable in tests.
type Peer struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[media.Track]*webrtc.RTPSender
}

// NewPeer creates a STUN-configured PeerConnection. The populate function
// registers codecs on the MediaEngine; it comes from the capture layer so
// the negotiated codecs match what the devices produce.
func NewPeer(populate func(*webrtc.MediaEngine) error, stunServers []string) (*Peer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := populate(mediaEngine); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	return &Peer{pc: pc, senders: make(map[media.Track]*webrtc.RTPSender)}, nil
}

// AddTrack attaches one local capture track. The RTP sender is kept so
// SetTrackEnabled can stop and resume the outbound stream later.
func (p *Peer) AddTrack(t media.Track) error {
	local := t.Local()
	if local == nil {
		return errors.New("track has no RTP backing")
	}
	sender, err := p.pc.AddTrack(local)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.senders[t] = sender
	p.mu.Unlock()
	return nil
}

// SetTrackEnabled stops or resumes sending t to the remote side. While
// disabled the sender carries no track, so the far end goes silent (audio)
// or black (video); the capture device itself keeps running. A no-op for
// tracks that were never attached.
func (p *Peer) SetTrackEnabled(t media.Track, on bool) error {
	p.mu.Lock()
	sender := p.senders[t]
	p.mu.Unlock()
	if sender == nil {
		return nil
	}
	if on {
		return sender.ReplaceTrack(t.Local())
	}
	return sender.ReplaceTrack(nil)
}

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

// OnRemoteTrack registers a callback invoked when remote media arrives.
func (p *Peer) OnRemoteTrack(fn func(kind media.Kind, id string)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := media.KindVideo
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			kind = media.KindAudio
		}
		fn(kind, track.ID())
	})
}

// OnStateChange registers a callback for PeerConnection state changes.
func (p *Peer) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	return p.pc.Close()
}
