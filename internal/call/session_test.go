package call_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/call"
	"github.com/1ureka/duet/internal/media"
)

// Compile-time interface checks.
var (
	_ call.Signaler       = (*fakeSignaler)(nil)
	_ call.PeerConnection = (*fakePeer)(nil)
	_ media.Devices       = (*fakeDevices)(nil)
	_ media.Track         = (*fakeTrack)(nil)
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeSignaler records every outbound message. The optional on* hooks
// forward messages to the other side asynchronously, simulating the relay
// between two linked sessions.
type fakeSignaler struct {
	mu         sync.Mutex
	incoming   int
	offers     []webrtc.SessionDescription
	answers    []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	ends       int

	onIncoming func()
	onOffer    func(webrtc.SessionDescription)
	onAnswer   func(webrtc.SessionDescription)
	onEnd      func()

	// onOfferSync runs inside SendOffer, before it returns — it models a
	// reply that lands while the sender is still mid-flow.
	onOfferSync func(webrtc.SessionDescription)
}

func (s *fakeSignaler) SendIncomingCall() error {
	s.mu.Lock()
	s.incoming++
	fn := s.onIncoming
	s.mu.Unlock()
	if fn != nil {
		go fn()
	}
	return nil
}

func (s *fakeSignaler) SendOffer(sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	s.offers = append(s.offers, sdp)
	fn := s.onOffer
	sync := s.onOfferSync
	s.mu.Unlock()
	if sync != nil {
		sync(sdp)
	}
	if fn != nil {
		go fn(sdp)
	}
	return nil
}

func (s *fakeSignaler) SendAnswer(sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	s.answers = append(s.answers, sdp)
	fn := s.onAnswer
	s.mu.Unlock()
	if fn != nil {
		go fn(sdp)
	}
	return nil
}

func (s *fakeSignaler) SendCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	s.candidates = append(s.candidates, c)
	s.mu.Unlock()
	return nil
}

func (s *fakeSignaler) SendEndCall() error {
	s.mu.Lock()
	s.ends++
	fn := s.onEnd
	s.mu.Unlock()
	if fn != nil {
		go fn()
	}
	return nil
}

func (s *fakeSignaler) counts() (incoming, offers, answers, ends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incoming, len(s.offers), len(s.answers), s.ends
}

// fakeTrack is an in-memory stand-in for a capture track.
type fakeTrack struct {
	kind media.Kind

	mu      sync.Mutex
	enabled bool
	closed  bool
}

func (t *fakeTrack) Kind() media.Kind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *fakeTrack) Local() webrtc.TrackLocal { return nil }

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakeDevices produces one audio and one video fakeTrack per acquisition,
// after an optional delay, or fails with err.
type fakeDevices struct {
	delay time.Duration
	err   error

	mu    sync.Mutex
	calls int
	audio *fakeTrack
	video *fakeTrack
}

func (d *fakeDevices) GetUserMedia(ctx context.Context) (media.Stream, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	d.mu.Lock()
	d.calls++
	d.audio = &fakeTrack{kind: media.KindAudio, enabled: true}
	d.video = &fakeTrack{kind: media.KindVideo, enabled: true}
	audio, video := d.audio, d.video
	d.mu.Unlock()

	return media.NewStream(audio, video), nil
}

func (d *fakeDevices) tracks() (audio, video *fakeTrack) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audio, d.video
}

// trackToggle records one SetTrackEnabled call.
type trackToggle struct {
	track media.Track
	on    bool
}

// fakePeer records every call made against the peer connection and lets
// tests fire connection-state transitions and remote tracks.
type fakePeer struct {
	mu                     sync.Mutex
	tracks                 []media.Track
	toggles                []trackToggle
	offersCreated          int
	answersCreated         int
	remoteDescs            []webrtc.SessionDescription
	candidates             []webrtc.ICECandidateInit
	candidatesBeforeRemote int
	closed                 bool

	onICE   func(*webrtc.ICECandidate)
	onTrack func(media.Kind, string)
	onState func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddTrack(t media.Track) error {
	p.mu.Lock()
	p.tracks = append(p.tracks, t)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) SetTrackEnabled(t media.Track, on bool) error {
	p.mu.Lock()
	p.toggles = append(p.toggles, trackToggle{t, on})
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.offersCreated++
	p.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.answersCreated++
	p.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (p *fakePeer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remoteDescs = append(p.remoteDescs, sdp)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if len(p.remoteDescs) == 0 {
		p.candidatesBeforeRemote++
	}
	p.candidates = append(p.candidates, c)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnRemoteTrack(fn func(media.Kind, string)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) fireState(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (p *fakePeer) fireRemoteTrack(kind media.Kind, id string) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(kind, id)
	}
}

func (p *fakePeer) addedCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func singlePeer(pc *fakePeer) call.PeerFactory {
	return func() (call.PeerConnection, error) { return pc, nil }
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

var testOffer = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}

// ---------------------------------------------------------------------------
// Caller path
// ---------------------------------------------------------------------------

func TestInitiateSendsSingleOffer(t *testing.T) {
	sig := &fakeSignaler{}
	pc := &fakePeer{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: sig,
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(pc),
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if got := sess.State(); got != call.StateNegotiating {
		t.Fatalf("state after Initiate = %s, want negotiating", got)
	}

	// Repeated invocations must be rejected without a second offer.
	for range 3 {
		if err := sess.Initiate(context.Background()); !errors.Is(err, call.ErrCallInProgress) {
			t.Fatalf("repeated Initiate: got %v, want ErrCallInProgress", err)
		}
	}

	incoming, offers, _, _ := sig.counts()
	if incoming != 1 || offers != 1 {
		t.Fatalf("sent %d incoming-call and %d offers, want 1 and 1", incoming, offers)
	}
}

func TestInitiateMediaFailureReturnsToIdle(t *testing.T) {
	sig := &fakeSignaler{}
	var notices []string
	var mu sync.Mutex

	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: sig,
		Devices:  &fakeDevices{err: errors.New("device busy")},
		NewPeer:  singlePeer(&fakePeer{}),
		Notify: func(n string) {
			mu.Lock()
			notices = append(notices, n)
			mu.Unlock()
		},
	})

	if err := sess.Initiate(context.Background()); err == nil {
		t.Fatal("Initiate succeeded despite media failure")
	}
	if got := sess.State(); got != call.StateIdle {
		t.Fatalf("state after media failure = %s, want idle", got)
	}

	// Nothing was announced: the other side must never learn about an
	// attempt that died before ringing.
	incoming, offers, _, ends := sig.counts()
	if incoming != 0 || offers != 0 || ends != 0 {
		t.Fatalf("messages sent after media failure: incoming=%d offers=%d ends=%d", incoming, offers, ends)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notices) == 0 {
		t.Fatal("no user notice for media failure")
	}
}

func TestInitiateAttachesTracksBeforeOffer(t *testing.T) {
	pc := &fakePeer{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: &fakeSignaler{},
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(pc),
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.tracks) != 2 {
		t.Fatalf("attached %d tracks, want 2", len(pc.tracks))
	}
	if pc.offersCreated != 1 {
		t.Fatalf("created %d offers, want 1", pc.offersCreated)
	}
}

func TestAnswerRacingOfferIsApplied(t *testing.T) {
	sig := &fakeSignaler{}
	pc := &fakePeer{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: sig,
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(pc),
	})

	// The answer comes back while SendOffer is still in flight, before
	// the session has moved to negotiating. It must be applied, not
	// dropped — a dropped answer leaves the watchdog to kill a viable
	// call.
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	sig.onOfferSync = func(webrtc.SessionDescription) {
		if err := sess.HandleAnswer(answer); err != nil {
			t.Errorf("HandleAnswer failed: %v", err)
		}
	}

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	pc.mu.Lock()
	applied := len(pc.remoteDescs)
	pc.mu.Unlock()
	if applied != 1 {
		t.Fatalf("peer applied %d remote descriptions, want 1", applied)
	}
	if got := sess.State(); got != call.StateNegotiating {
		t.Fatalf("state after racing answer = %s, want negotiating", got)
	}
}

// ---------------------------------------------------------------------------
// Callee path
// ---------------------------------------------------------------------------

func TestOfferBeforeAcceptAnswersOnce(t *testing.T) {
	sig := &fakeSignaler{}
	pc := &fakePeer{}
	sess := call.NewSession(call.RoleCallee, call.Config{
		Signaler: sig,
		Devices:  &fakeDevices{delay: 20 * time.Millisecond},
		NewPeer:  singlePeer(pc),
	})

	// The offer lands before the user accepts; HandleOffer must wait for
	// the acceptance-triggered media acquisition instead of failing.
	offerDone := make(chan error, 1)
	go func() { offerDone <- sess.HandleOffer(context.Background(), testOffer) }()

	time.Sleep(10 * time.Millisecond)
	if err := sess.AcceptIncoming(context.Background()); err != nil {
		t.Fatalf("AcceptIncoming failed: %v", err)
	}

	if err := <-offerDone; err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}
	if got := sess.State(); got != call.StateNegotiating {
		t.Fatalf("state after answering = %s, want negotiating", got)
	}

	_, _, answers, _ := sig.counts()
	if answers != 1 {
		t.Fatalf("sent %d answers, want 1", answers)
	}
}

func TestDuplicateOfferIgnored(t *testing.T) {
	sig := &fakeSignaler{}
	sess := call.NewSession(call.RoleCallee, call.Config{
		Signaler: sig,
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(&fakePeer{}),
	})

	if err := sess.AcceptIncoming(context.Background()); err != nil {
		t.Fatalf("AcceptIncoming failed: %v", err)
	}
	if got := sess.State(); got != call.StateAwaitingOffer {
		t.Fatalf("state after accept = %s, want awaiting-offer", got)
	}

	if err := sess.HandleOffer(context.Background(), testOffer); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}
	if err := sess.HandleOffer(context.Background(), testOffer); err != nil {
		t.Fatalf("duplicate HandleOffer returned %v, want nil (ignored)", err)
	}

	_, _, answers, _ := sig.counts()
	if answers != 1 {
		t.Fatalf("sent %d answers, want exactly 1", answers)
	}
}

func TestOfferOnCallerSideIgnored(t *testing.T) {
	sig := &fakeSignaler{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: sig,
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(&fakePeer{}),
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if err := sess.HandleOffer(context.Background(), testOffer); err != nil {
		t.Fatalf("HandleOffer on caller returned %v, want nil (ignored)", err)
	}

	_, _, answers, _ := sig.counts()
	if answers != 0 {
		t.Fatalf("caller sent %d answers, want 0", answers)
	}
}

func TestDeclineSendsNothing(t *testing.T) {
	sig := &fakeSignaler{}
	sess := call.NewSession(call.RoleCallee, call.Config{
		Signaler: sig,
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(&fakePeer{}),
	})

	sess.Decline()

	incoming, offers, answers, ends := sig.counts()
	if incoming+offers+answers+ends != 0 {
		t.Fatalf("decline sent messages: incoming=%d offers=%d answers=%d ends=%d",
			incoming, offers, answers, ends)
	}
	if got := sess.State(); got != call.StateIdle {
		t.Fatalf("state after decline = %s, want idle", got)
	}
}

// ---------------------------------------------------------------------------
// ICE candidates
// ---------------------------------------------------------------------------

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	pc := &fakePeer{}
	sess := call.NewSession(call.RoleCallee, call.Config{
		Signaler: &fakeSignaler{},
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(pc),
	})

	// Candidates race ahead of the offer. They must be held, not applied
	// and not dropped.
	sess.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	sess.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "candidate:2"})
	if got := pc.addedCandidates(); got != 0 {
		t.Fatalf("%d candidates applied before remote description", got)
	}

	if err := sess.AcceptIncoming(context.Background()); err != nil {
		t.Fatalf("AcceptIncoming failed: %v", err)
	}
	if err := sess.HandleOffer(context.Background(), testOffer); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}

	if got := pc.addedCandidates(); got != 2 {
		t.Fatalf("%d candidates applied after remote description, want 2", got)
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.candidatesBeforeRemote != 0 {
		t.Fatalf("%d candidates reached the peer before its remote description", pc.candidatesBeforeRemote)
	}
}

func TestCandidateAfterEndDiscarded(t *testing.T) {
	pc := &fakePeer{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: &fakeSignaler{},
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(pc),
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	sess.End()

	sess.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "candidate:late"})
	if got := pc.addedCandidates(); got != 0 {
		t.Fatalf("%d candidates applied after teardown", got)
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

func TestEndIsIdempotent(t *testing.T) {
	sig := &fakeSignaler{}
	pc := &fakePeer{}
	dev := &fakeDevices{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: sig,
		Devices:  dev,
		NewPeer:  singlePeer(pc),
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	sess.End()
	sess.End()
	sess.End()

	_, _, _, ends := sig.counts()
	if ends != 1 {
		t.Fatalf("sent %d end-call messages, want 1", ends)
	}
	if !pc.isClosed() {
		t.Fatal("peer connection not closed")
	}
	audio, video := dev.tracks()
	if !audio.isClosed() || !video.isClosed() {
		t.Fatal("local tracks not closed, devices leak")
	}
	if got := sess.State(); got != call.StateIdle {
		t.Fatalf("state after End = %s, want idle", got)
	}

	select {
	case <-sess.Done():
	default:
		t.Fatal("Done not closed after End")
	}
}

func TestRemoteEndSendsNoEcho(t *testing.T) {
	sig := &fakeSignaler{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: sig,
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(&fakePeer{}),
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	sess.HandleRemoteEnd()

	_, _, _, ends := sig.counts()
	if ends != 0 {
		t.Fatalf("sent %d end-call messages after remote end, want 0", ends)
	}
	if got := sess.State(); got != call.StateIdle {
		t.Fatalf("state after remote end = %s, want idle", got)
	}
}

func TestOnClosedFiresOnce(t *testing.T) {
	var mu sync.Mutex
	closed := 0

	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: &fakeSignaler{},
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(&fakePeer{}),
		OnClosed: func() {
			mu.Lock()
			closed++
			mu.Unlock()
		},
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	sess.End()
	sess.HandleRemoteEnd()
	sess.End()

	mu.Lock()
	defer mu.Unlock()
	if closed != 1 {
		t.Fatalf("OnClosed fired %d times, want 1", closed)
	}
}

func TestConnectionFailureTearsDown(t *testing.T) {
	sig := &fakeSignaler{}
	pc := &fakePeer{}
	var mu sync.Mutex
	var notices []string

	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: sig,
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(pc),
		Notify: func(n string) {
			mu.Lock()
			notices = append(notices, n)
			mu.Unlock()
		},
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	pc.fireState(webrtc.PeerConnectionStateFailed)

	waitUntil(t, func() bool { return sess.State() == call.StateIdle },
		"session did not return to idle after connection failure")

	_, _, _, ends := sig.counts()
	if ends != 1 {
		t.Fatalf("sent %d end-call messages after failure, want 1", ends)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(notices) == 0 {
		t.Fatal("no user notice for connection failure")
	}
}

func TestNegotiationTimeout(t *testing.T) {
	sig := &fakeSignaler{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler:           sig,
		Devices:            &fakeDevices{},
		NewPeer:            singlePeer(&fakePeer{}),
		NegotiationTimeout: 30 * time.Millisecond,
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	// No answer ever arrives; the watchdog must give up.
	waitUntil(t, func() bool { return sess.State() == call.StateIdle },
		"negotiation did not time out")

	_, _, _, ends := sig.counts()
	if ends != 1 {
		t.Fatalf("sent %d end-call messages after timeout, want 1", ends)
	}
}

// ---------------------------------------------------------------------------
// Controls
// ---------------------------------------------------------------------------

func TestToggleAudioFlipsOnlyAudioTracks(t *testing.T) {
	dev := &fakeDevices{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: &fakeSignaler{},
		Devices:  dev,
		NewPeer:  singlePeer(&fakePeer{}),
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	audio, video := dev.tracks()

	if on := sess.ToggleAudio(); on {
		t.Fatal("ToggleAudio returned enabled, want muted")
	}
	if audio.Enabled() {
		t.Fatal("audio track still enabled after mute")
	}
	if !video.Enabled() {
		t.Fatal("video track disabled by audio mute")
	}

	if on := sess.ToggleAudio(); !on {
		t.Fatal("second ToggleAudio did not re-enable")
	}
	if !audio.Enabled() {
		t.Fatal("audio track not re-enabled")
	}
}

func TestToggleAudioStopsOutboundTrack(t *testing.T) {
	pc := &fakePeer{}
	dev := &fakeDevices{}
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: &fakeSignaler{},
		Devices:  dev,
		NewPeer:  singlePeer(pc),
	})

	if err := sess.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	audio, _ := dev.tracks()

	// Muting must reach the peer connection: the flag alone changes
	// nothing the remote side can observe.
	sess.ToggleAudio()
	sess.ToggleAudio()

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.toggles) != 2 {
		t.Fatalf("peer saw %d track toggles, want 2", len(pc.toggles))
	}
	if pc.toggles[0].track != audio || pc.toggles[0].on {
		t.Fatalf("first toggle = %+v, want audio track disabled", pc.toggles[0])
	}
	if pc.toggles[1].track != audio || !pc.toggles[1].on {
		t.Fatalf("second toggle = %+v, want audio track re-enabled", pc.toggles[1])
	}
}

func TestSwapPrimary(t *testing.T) {
	sess := call.NewSession(call.RoleCaller, call.Config{
		Signaler: &fakeSignaler{},
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(&fakePeer{}),
	})

	if sess.PrimaryLocal() {
		t.Fatal("primary defaults to local, want remote")
	}
	sess.SwapPrimary()
	if !sess.PrimaryLocal() {
		t.Fatal("SwapPrimary did not flip to local")
	}
	sess.SwapPrimary()
	if sess.PrimaryLocal() {
		t.Fatal("SwapPrimary did not flip back to remote")
	}
}

// ---------------------------------------------------------------------------
// Full scenario
// ---------------------------------------------------------------------------

// TestCallConnectsEndToEnd links a caller and a callee session through
// forwarding signalers and walks the whole flow: ring, accept, offer,
// answer, connect, remote tracks, hang up.
func TestCallConnectsEndToEnd(t *testing.T) {
	callerSig := &fakeSignaler{}
	calleeSig := &fakeSignaler{}
	callerPC := &fakePeer{}
	calleePC := &fakePeer{}

	var mu sync.Mutex
	remoteTracks := map[string]int{}

	caller := call.NewSession(call.RoleCaller, call.Config{
		Signaler: callerSig,
		Devices:  &fakeDevices{},
		NewPeer:  singlePeer(callerPC),
		OnRemoteTrack: func(kind media.Kind, _ string) {
			mu.Lock()
			remoteTracks["caller-"+string(kind)]++
			mu.Unlock()
		},
	})
	callee := call.NewSession(call.RoleCallee, call.Config{
		Signaler: calleeSig,
		Devices:  &fakeDevices{delay: 15 * time.Millisecond},
		NewPeer:  singlePeer(calleePC),
		OnRemoteTrack: func(kind media.Kind, _ string) {
			mu.Lock()
			remoteTracks["callee-"+string(kind)]++
			mu.Unlock()
		},
	})

	// Wire the two sides together the way the relay would.
	callerSig.onIncoming = func() {
		// The user takes a moment to accept.
		time.Sleep(5 * time.Millisecond)
		if err := callee.AcceptIncoming(context.Background()); err != nil {
			t.Errorf("AcceptIncoming failed: %v", err)
		}
	}
	callerSig.onOffer = func(sdp webrtc.SessionDescription) {
		if err := callee.HandleOffer(context.Background(), sdp); err != nil {
			t.Errorf("HandleOffer failed: %v", err)
		}
	}
	callerSig.onEnd = callee.HandleRemoteEnd
	calleeSig.onAnswer = func(sdp webrtc.SessionDescription) {
		if err := caller.HandleAnswer(sdp); err != nil {
			t.Errorf("HandleAnswer failed: %v", err)
		}
	}
	calleeSig.onEnd = caller.HandleRemoteEnd

	if err := caller.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	waitUntil(t, func() bool { return callee.State() == call.StateNegotiating },
		"callee never reached negotiating")
	waitUntil(t, func() bool {
		callerPC.mu.Lock()
		defer callerPC.mu.Unlock()
		return len(callerPC.remoteDescs) == 1
	}, "caller never applied the answer")

	// ICE succeeds on both sides.
	callerPC.fireState(webrtc.PeerConnectionStateConnected)
	calleePC.fireState(webrtc.PeerConnectionStateConnected)
	waitUntil(t, func() bool {
		return caller.State() == call.StateConnected && callee.State() == call.StateConnected
	}, "sessions never reached connected")

	callerPC.fireRemoteTrack(media.KindVideo, "remote-video")
	calleePC.fireRemoteTrack(media.KindAudio, "remote-audio")
	mu.Lock()
	if remoteTracks["caller-video"] != 1 || remoteTracks["callee-audio"] != 1 {
		mu.Unlock()
		t.Fatal("remote track callbacks did not fire")
	}
	mu.Unlock()

	// Caller hangs up; the callee observes it without echoing end-call.
	caller.End()
	waitUntil(t, func() bool {
		return caller.State() == call.StateIdle && callee.State() == call.StateIdle
	}, "sessions did not return to idle after hang up")

	_, _, _, callerEnds := callerSig.counts()
	_, _, _, calleeEnds := calleeSig.counts()
	if callerEnds != 1 || calleeEnds != 0 {
		t.Fatalf("end-call ping-pong: caller sent %d, callee sent %d", callerEnds, calleeEnds)
	}
}
