// Package call implements the state machine that establishes and tears
// down one two-party audio/video call: local media acquisition, peer
// connection lifecycle, and the offer/answer/ICE exchange over the
// signaling channel.
//
// Every collaborator with side effects — the signaling channel, capture
// devices, peer connection — is injected, and every transition is guarded
// by an explicit state check under the session mutex, so late or duplicate
// events are provably ignored instead of accidentally accepted.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/util"
)

var (
	// ErrCallInProgress is returned when a call attempt starts while the
	// session is not idle. A session carries exactly one call attempt.
	ErrCallInProgress = errors.New("a call is already in progress")

	// ErrSessionEnded is returned by operations that resumed after the
	// session was torn down; the caller must not mutate anything further.
	ErrSessionEnded = errors.New("session has ended")
)

// Default bounds for the suspension points that could otherwise hang
// forever: waiting for camera permission, waiting for the callee to pick
// up, and waiting for ICE to connect.
const (
	DefaultMediaTimeout       = 30 * time.Second
	DefaultRingTimeout        = 60 * time.Second
	DefaultNegotiationTimeout = 45 * time.Second
)

// Config carries the session's injected collaborators and observers.
// Signaler, Devices, and NewPeer are required; everything else is
// optional.
type Config struct {
	Signaler Signaler
	Devices  media.Devices
	NewPeer  PeerFactory

	MediaTimeout       time.Duration
	RingTimeout        time.Duration
	NegotiationTimeout time.Duration

	// Notify surfaces user-facing failure notices. Falls back to the log.
	Notify func(string)

	// OnState observes lifecycle transitions.
	OnState func(State)

	// OnLocalStream fires once when local media has been acquired.
	OnLocalStream func(media.Stream)

	// OnRemoteTrack fires for each remote media track that arrives.
	OnRemoteTrack func(kind media.Kind, id string)

	// OnClosed fires exactly once, after teardown completes.
	OnClosed func()
}

// Session is one call attempt. It exclusively owns the local media stream
// and the peer connection from acquisition until teardown; the UI layer
// only reads flags through the accessor methods.
type Session struct {
	cfg  Config
	role Role

	mu             sync.Mutex
	state          State
	ended          bool
	pc             PeerConnection
	stream         media.Stream
	tracksAttached bool
	answered       bool // an offer has been taken; a second one is a protocol violation
	offerSent      bool
	haveRemoteDesc bool
	acquiring      bool
	mediaErr       error
	pending        []webrtc.ICECandidateInit
	audioOn        bool
	videoOn        bool
	primaryLocal   bool
	negTimer       *time.Timer

	mediaReady chan struct{} // closed when media acquisition settles, success or not
	done       chan struct{} // closed when teardown begins
}

// NewSession creates an idle session for one call attempt.
func NewSession(role Role, cfg Config) *Session {
	return &Session{
		cfg:        cfg,
		role:       role,
		state:      StateIdle,
		audioOn:    true,
		videoOn:    true,
		mediaReady: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (s *Session) Role() Role { return s.role }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

func (s *Session) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

// PrimaryLocal reports whether the local stream is shown on the primary
// surface. Default is the remote stream.
func (s *Session) PrimaryLocal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primaryLocal
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// ---------------------------------------------------------------------------
// Caller path
// ---------------------------------------------------------------------------

// Initiate runs the caller flow: acquire media, build the peer connection,
// ring the other side, then create and send the offer. It blocks through
// media acquisition and is a guarded no-op while the session is not idle,
// so repeated invocations can never produce a second offer.
func (s *Session) Initiate(ctx context.Context) error {
	s.mu.Lock()
	if s.ended || s.state != StateIdle {
		s.mu.Unlock()
		util.LogWarning("call attempt ignored: session is not idle")
		return ErrCallInProgress
	}
	s.acquiring = true
	s.state = StateAcquiringMedia
	s.mu.Unlock()
	s.notifyState(StateAcquiringMedia)

	if err := s.acquireMedia(ctx); err != nil {
		s.abortAttempt("Cannot access camera/microphone. Check permissions.")
		return err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	pc, err := s.ensurePeerLocked()
	if err == nil {
		err = s.attachLocalTracksLocked()
	}
	s.mu.Unlock()
	if err != nil {
		s.abortAttempt("Unable to start the call.")
		return err
	}

	// Ring first, then offer, matching the callee's expectations: the
	// incoming-call prompt is already showing when the offer lands.
	if err := s.cfg.Signaler.SendIncomingCall(); err != nil {
		s.abortAttempt("Unable to reach the other side.")
		return err
	}

	offer, err := pc.CreateOffer()
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		s.abortAttempt("Call setup failed.")
		return fmt.Errorf("failed to create offer: %w", err)
	}

	// Mark the offer outstanding before it leaves, so an answer racing
	// back ahead of the state transition below is still accepted.
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.offerSent = true
	s.mu.Unlock()
	if err := s.cfg.Signaler.SendOffer(offer); err != nil {
		s.abortAttempt("Unable to reach the other side.")
		return err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.state = StateNegotiating
	s.startNegotiationTimerLocked()
	s.mu.Unlock()
	s.notifyState(StateNegotiating)
	return nil
}

// ---------------------------------------------------------------------------
// Callee path
// ---------------------------------------------------------------------------

// AcceptIncoming runs the callee flow after the user confirmed the call:
// acquire media, make sure a peer connection exists (the arriving offer
// may have created it already — never twice), and attach local tracks.
// The answer itself is produced by HandleOffer, which waits for this
// acquisition when the offer arrives first.
func (s *Session) AcceptIncoming(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		util.LogWarning("accept ignored: session is not idle")
		return ErrCallInProgress
	}
	s.acquiring = true
	s.state = StateAcquiringMedia
	s.mu.Unlock()
	s.notifyState(StateAcquiringMedia)

	if err := s.acquireMedia(ctx); err != nil {
		s.abortAttempt("Cannot access camera/microphone. Check permissions.")
		return err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	_, err := s.ensurePeerLocked()
	if err == nil {
		err = s.attachLocalTracksLocked()
	}
	awaiting := err == nil && !s.answered
	if awaiting {
		s.state = StateAwaitingOffer
	}
	s.mu.Unlock()

	if err != nil {
		s.abortAttempt("Unable to start the call.")
		return err
	}
	if awaiting {
		s.notifyState(StateAwaitingOffer)
	}
	return nil
}

// Decline abandons a not-yet-accepted call. Nothing was announced to the
// remote side, so nothing is sent; resources, if any, are released.
func (s *Session) Decline() {
	s.teardown(false)
}

// ---------------------------------------------------------------------------
// Signaling handlers
// ---------------------------------------------------------------------------

// HandleOffer applies the remote offer and produces the answer. The peer
// connection is created here when the offer beats AcceptIncoming to it.
// Local media may still be pending — acquisition starts when the user
// accepts, which can be well after the offer arrives — so the handler
// waits for it before answering. A second offer in the same session is a
// protocol violation and is ignored with a warning; at most one answer is
// ever sent.
func (s *Session) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if s.role == RoleCaller {
		s.mu.Unlock()
		util.LogWarning("unexpected offer on the caller side ignored")
		return nil
	}
	if s.answered {
		s.mu.Unlock()
		util.LogWarning("duplicate offer ignored: negotiation already in progress")
		return nil
	}
	s.answered = true
	pc, err := s.ensurePeerLocked()
	s.mu.Unlock()
	if err != nil {
		s.abortAttempt("Unable to start the call.")
		return err
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		s.abortAttempt("Call setup failed.")
		return fmt.Errorf("failed to apply offer: %w", err)
	}

	s.mu.Lock()
	s.haveRemoteDesc = true
	s.flushPendingLocked()
	s.mu.Unlock()

	if err := s.waitForMedia(ctx); err != nil {
		s.abortAttempt("Cannot access camera/microphone. Check permissions.")
		return err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	err = s.attachLocalTracksLocked()
	s.mu.Unlock()
	if err != nil {
		s.abortAttempt("Unable to start the call.")
		return err
	}

	answer, err := pc.CreateAnswer()
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		s.abortAttempt("Call setup failed.")
		return fmt.Errorf("failed to create answer: %w", err)
	}

	if s.isEnded() {
		return ErrSessionEnded
	}
	if err := s.cfg.Signaler.SendAnswer(answer); err != nil {
		s.abortAttempt("Unable to reach the other side.")
		return err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.state = StateNegotiating
	s.startNegotiationTimerLocked()
	s.mu.Unlock()
	s.notifyState(StateNegotiating)
	return nil
}

// HandleAnswer applies the remote answer. A no-op when no peer connection
// exists (it may arrive after teardown) or when no offer is outstanding.
func (s *Session) HandleAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.ended || s.pc == nil {
		s.mu.Unlock()
		util.LogDebug("answer ignored: no active peer connection")
		return nil
	}
	if !s.offerSent {
		s.mu.Unlock()
		util.LogWarning("unexpected answer ignored: no offer outstanding")
		return nil
	}
	pc := s.pc
	s.mu.Unlock()

	if err := pc.SetRemoteDescription(answer); err != nil {
		s.abortAttempt("Call setup failed.")
		return fmt.Errorf("failed to apply answer: %w", err)
	}

	s.mu.Lock()
	s.haveRemoteDesc = true
	s.flushPendingLocked()
	s.mu.Unlock()
	return nil
}

// HandleRemoteCandidate adds one remote ICE candidate, best-effort.
// Candidates arriving before a remote description exists are buffered and
// flushed once it does; candidates arriving after teardown are discarded.
// Application failures are logged and swallowed — a bad candidate must
// never take the call down.
func (s *Session) HandleRemoteCandidate(candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		util.LogDebug("ICE candidate discarded: session ended")
		return
	}
	if s.pc == nil || !s.haveRemoteDesc {
		s.pending = append(s.pending, candidate)
		s.mu.Unlock()
		return
	}
	pc := s.pc
	s.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		util.LogWarning("failed to add ICE candidate: %v", err)
	}
}

// HandleRemoteEnd tears the session down after the other side ended the
// call. Identical to End except no end-call message is sent back, so two
// well-behaved clients cannot ping-pong end notifications.
func (s *Session) HandleRemoteEnd() {
	util.LogInfo("call ended by the other side")
	s.teardown(false)
}

// ---------------------------------------------------------------------------
// Controls
// ---------------------------------------------------------------------------

// ToggleAudio mutes or unmutes all local audio tracks. The capture device
// keeps running; the peer connection stops sending the track while muted,
// so the remote side goes silent. Returns the new enabled state.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioOn = !s.audioOn
	if s.stream != nil {
		s.setTracksEnabledLocked(s.stream.AudioTracks(), s.audioOn)
	}
	return s.audioOn
}

// ToggleVideo enables or disables all local video tracks, same contract as
// ToggleAudio (the remote side sees black while disabled).
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoOn = !s.videoOn
	if s.stream != nil {
		s.setTracksEnabledLocked(s.stream.VideoTracks(), s.videoOn)
	}
	return s.videoOn
}

// setTracksEnabledLocked flips the track flags and, when a peer connection
// is live, stops or resumes the outbound RTP streams to match.
func (s *Session) setTracksEnabledLocked(tracks []media.Track, on bool) {
	for _, t := range tracks {
		t.SetEnabled(on)
		if s.pc == nil || !s.tracksAttached {
			continue
		}
		if err := s.pc.SetTrackEnabled(t, on); err != nil {
			util.LogWarning("failed to toggle outbound %s track: %v", t.Kind(), err)
		}
	}
}

// SwapPrimary flips which stream the primary surface shows. Pure UI state,
// no network or media side effect.
func (s *Session) SwapPrimary() {
	s.mu.Lock()
	s.primaryLocal = !s.primaryLocal
	s.mu.Unlock()
}

// End tears the session down: notifies the other side, stops every local
// track (releasing camera and microphone), closes the peer connection, and
// resets all per-call flags. Idempotent — only the first call sends the
// end-call message or touches resources.
func (s *Session) End() {
	s.teardown(true)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// acquireMedia blocks on the capture devices, bounded by MediaTimeout.
// Exactly one acquisition runs per session; its outcome is published by
// closing mediaReady. If teardown won the race, the late stream is closed
// so the devices are not leaked.
func (s *Session) acquireMedia(ctx context.Context) error {
	mctx, cancel := context.WithTimeout(ctx, s.mediaTimeout())
	defer cancel()

	stream, err := s.cfg.Devices.GetUserMedia(mctx)

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		return ErrSessionEnded
	}
	if err != nil {
		s.mediaErr = err
	} else {
		s.stream = stream
	}
	s.acquiring = false
	close(s.mediaReady)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("media acquisition failed: %w", err)
	}
	if s.cfg.OnLocalStream != nil {
		s.cfg.OnLocalStream(stream)
	}
	return nil
}

// waitForMedia blocks until the session's media acquisition settles,
// bounded by RingTimeout (the acquisition only starts once the user
// accepts, so this wait covers the user's decision as well).
func (s *Session) waitForMedia(ctx context.Context) error {
	timer := time.NewTimer(s.ringTimeout())
	defer timer.Stop()

	select {
	case <-s.mediaReady:
	case <-s.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out waiting for local media")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mediaErr != nil {
		return s.mediaErr
	}
	if s.stream == nil {
		return ErrSessionEnded
	}
	return nil
}

// ensurePeerLocked creates the peer connection on first use. A session
// never constructs it twice, no matter which event gets there first.
func (s *Session) ensurePeerLocked() (PeerConnection, error) {
	if s.pc != nil {
		return s.pc, nil
	}
	pc, err := s.cfg.NewPeer()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	s.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || s.isEnded() {
			return
		}
		if err := s.cfg.Signaler.SendCandidate(c.ToJSON()); err != nil {
			util.LogDebug("candidate send failed: %v", err)
		}
	})

	pc.OnRemoteTrack(func(kind media.Kind, id string) {
		if s.isEnded() {
			return
		}
		util.LogInfo("remote %s track received", kind)
		if s.cfg.OnRemoteTrack != nil {
			s.cfg.OnRemoteTrack(kind, id)
		}
	})

	pc.OnStateChange(s.handlePeerState)
	return pc, nil
}

func (s *Session) handlePeerState(st webrtc.PeerConnectionState) {
	util.LogDebug("PeerConnection state: %s", st)
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.ended || s.state != StateNegotiating {
			s.mu.Unlock()
			return
		}
		s.state = StateConnected
		s.stopNegotiationTimerLocked()
		s.mu.Unlock()
		s.notifyState(StateConnected)

	case webrtc.PeerConnectionStateFailed:
		if s.isEnded() {
			return
		}
		s.notifyUser("Connection failed.")
		s.teardown(true)
	}
}

// attachLocalTracksLocked adds every local track to the peer connection,
// once. Tracks are always attached before an offer or answer is created.
func (s *Session) attachLocalTracksLocked() error {
	if s.tracksAttached || s.stream == nil || s.pc == nil {
		return nil
	}
	for _, t := range s.stream.Tracks() {
		if err := s.pc.AddTrack(t); err != nil {
			return fmt.Errorf("failed to attach local %s track: %w", t.Kind(), err)
		}
	}
	s.tracksAttached = true
	return nil
}

// flushPendingLocked applies candidates buffered before the remote
// description existed. Failures are logged and dropped.
func (s *Session) flushPendingLocked() {
	if s.pc == nil {
		s.pending = nil
		return
	}
	for _, c := range s.pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			util.LogWarning("failed to add buffered ICE candidate: %v", err)
		}
	}
	s.pending = nil
}

// abortAttempt reports a failed call attempt to the user and tears down
// without notifying the remote side (nothing usable was established).
func (s *Session) abortAttempt(notice string) {
	if s.isEnded() {
		return
	}
	s.notifyUser(notice)
	s.teardown(false)
}

// teardown is the single exit path for a session. Safe to call from any
// state and any goroutine; only the first invocation does anything.
func (s *Session) teardown(notifyRemote bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.state = StateEnding
	pc, stream := s.pc, s.stream
	s.pc, s.stream = nil, nil
	s.pending = nil
	s.tracksAttached = false
	s.stopNegotiationTimerLocked()
	close(s.done)
	s.mu.Unlock()
	s.notifyState(StateEnding)

	if notifyRemote && s.cfg.Signaler != nil {
		if err := s.cfg.Signaler.SendEndCall(); err != nil {
			util.LogDebug("end-call send failed: %v", err)
		}
	}
	if stream != nil {
		stream.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			util.LogDebug("peer connection close: %v", err)
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	s.audioOn, s.videoOn = true, true
	s.primaryLocal = false
	s.mu.Unlock()
	s.notifyState(StateIdle)

	if s.cfg.OnClosed != nil {
		s.cfg.OnClosed()
	}
}

func (s *Session) startNegotiationTimerLocked() {
	if s.negTimer != nil {
		return
	}
	s.negTimer = time.AfterFunc(s.negotiationTimeout(), func() {
		s.mu.Lock()
		stuck := !s.ended && s.state == StateNegotiating
		s.mu.Unlock()
		if !stuck {
			return
		}
		s.notifyUser("Call did not connect in time.")
		s.teardown(true)
	})
}

func (s *Session) stopNegotiationTimerLocked() {
	if s.negTimer != nil {
		s.negTimer.Stop()
		s.negTimer = nil
	}
}

func (s *Session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) notifyState(st State) {
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

func (s *Session) notifyUser(notice string) {
	if s.cfg.Notify != nil {
		s.cfg.Notify(notice)
		return
	}
	util.LogWarning("%s", notice)
}

func (s *Session) mediaTimeout() time.Duration {
	if s.cfg.MediaTimeout > 0 {
		return s.cfg.MediaTimeout
	}
	return DefaultMediaTimeout
}

func (s *Session) ringTimeout() time.Duration {
	if s.cfg.RingTimeout > 0 {
		return s.cfg.RingTimeout
	}
	return DefaultRingTimeout
}

func (s *Session) negotiationTimeout() time.Duration {
	if s.cfg.NegotiationTimeout > 0 {
		return s.cfg.NegotiationTimeout
	}
	return DefaultNegotiationTimeout
}
