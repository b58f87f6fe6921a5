// Package app wires the client together: configuration, the relay
// channel, media capture, the call session, the overlay controller, and
// the terminal command loop. It owns the at-most-one-session rule — a
// new call attempt is rejected while another session exists, whatever
// state that session is in.
package app

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/duet/internal/call"
	"github.com/1ureka/duet/internal/chat"
	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/overlay"
	"github.com/1ureka/duet/internal/room"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/util"
	webrtcx "github.com/1ureka/duet/internal/webrtc"
)

// narrowWidth is the terminal width below which the overlay defaults to
// fullscreen.
const narrowWidth = 100

// App is the running client.
type App struct {
	cfg     *config.Config
	ch      *signaling.Channel
	log     *chat.Log
	overlay *overlay.Controller
	devices *media.CaptureDevices

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	sess    *call.Session
	ringing bool // an incoming call is waiting for /accept or /decline
}

// Run starts the client and blocks until ctx is cancelled, the relay
// connection drops, or the room rejects us.
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. Connect to the relay and join today's room.
	roomID := room.TodayID(cfg.Secret)

	ch, err := signaling.Connect(ctx, cfg.ServerURL)
	if err != nil {
		return err
	}
	defer ch.Close()

	// 2. Prepare capture devices. A machine without a camera can still
	// chat and receive remote media; capture failures surface per call.
	devices, err := media.NewCaptureDevices()
	if err != nil {
		return err
	}

	a := &App{
		cfg:     cfg,
		ch:      ch,
		log:     chat.NewLog(ch.ID()),
		overlay: overlay.New(pterm.GetTerminalWidth() <= narrowWidth),
		devices: devices,
		ctx:     ctx,
		cancel:  cancel,
	}

	// 3. Register handlers before any traffic can arrive.
	ch.SetHandlers(signaling.Handlers{
		OnChat:         a.onChat,
		OnIncomingCall: a.onIncomingCall,
		OnOffer:        a.onOffer,
		OnAnswer:       a.onAnswer,
		OnCandidate:    a.onCandidate,
		OnCallEnded:    a.onCallEnded,
		OnRoomFull:     a.onRoomFull,
	})

	if err := ch.Join(roomID); err != nil {
		return err
	}
	util.LogSuccess("joined %s", roomID)
	pterm.Info.Println("Type a message to chat, /call to start a video call, /help for commands.")

	// 4. Read loop and command loop run until either fails.
	listenErr := make(chan error, 1)
	go func() { listenErr <- ch.Listen(ctx) }()

	lines := make(chan string)
	go readLines(ctx, lines)

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case err := <-listenErr:
			a.shutdown()
			if ctx.Err() != nil {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				a.shutdown()
				return nil
			}
			a.handleLine(line)
		}
	}
}

// readLines feeds stdin lines to the command loop and closes the channel
// on EOF.
func readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

// shutdown ends any in-flight call so the camera and the remote side are
// released before the process exits.
func (a *App) shutdown() {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess != nil {
		sess.End()
	}
}

// ---------------------------------------------------------------------------
// Command loop
// ---------------------------------------------------------------------------

// handleLine interprets one line of user input. Lines starting with "/"
// are commands; everything else is a chat message.
func (a *App) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		a.sendChat(line)
		return
	}

	switch strings.Fields(line)[0] {
	case "/call":
		a.startCall()
	case "/accept":
		a.acceptCall()
	case "/decline":
		a.declineCall()
	case "/end":
		if a.overlay.EndCall() {
			util.LogInfo("call ended")
		}
	case "/mute":
		if on, ok := a.overlay.ToggleAudio(); ok {
			if on {
				util.LogInfo("microphone on")
			} else {
				util.LogInfo("microphone muted")
			}
		}
	case "/video":
		if on, ok := a.overlay.ToggleVideo(); ok {
			if on {
				util.LogInfo("camera on")
			} else {
				util.LogInfo("camera off")
			}
		}
	case "/swap":
		if a.overlay.Swap() {
			util.LogInfo("primary view: %s", a.overlay.Primary().Source)
		}
	case "/full":
		if a.overlay.ToggleFullscreen() {
			util.LogInfo("overlay fullscreen")
		} else {
			util.LogInfo("overlay minimized")
		}
	case "/help":
		printHelp()
	case "/quit":
		a.cancel()
	default:
		util.LogWarning("unknown command %q — /help lists the commands", line)
	}
}

func printHelp() {
	pterm.Println()
	pterm.Println("  /call      start a video call")
	pterm.Println("  /accept    accept an incoming call")
	pterm.Println("  /decline   decline an incoming call")
	pterm.Println("  /end       end the current call")
	pterm.Println("  /mute      toggle the microphone")
	pterm.Println("  /video     toggle the camera")
	pterm.Println("  /swap      swap the primary and self views")
	pterm.Println("  /full      toggle overlay fullscreen")
	pterm.Println("  /quit      leave the room and exit")
	pterm.Println()
	pterm.Println("  Anything else is sent as a chat message.")
	pterm.Println()
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func (a *App) sendChat(text string) {
	if err := a.ch.SendChat(text); err != nil {
		util.LogError("failed to send message: %v", err)
		return
	}
	// The relay forwards to the other side only; our own copy is local.
	msg := chat.Message{Text: text, Sender: a.ch.ID()}
	a.log.Append(msg)
	a.printChat(msg)
}

func (a *App) onChat(sender, text string) {
	msg := chat.Message{Text: text, Sender: sender}
	a.log.Append(msg)
	a.printChat(msg)
}

func (a *App) printChat(msg chat.Message) {
	if a.log.Own(msg) {
		pterm.FgCyan.Println("you ▸ " + msg.Text)
	} else {
		pterm.FgLightMagenta.Println("them ▸ " + msg.Text)
	}
}

// ---------------------------------------------------------------------------
// Call lifecycle
// ---------------------------------------------------------------------------

// newSession builds a session bound to this app's channel, devices, and
// overlay. Caller must hold a.mu.
func (a *App) newSessionLocked(role call.Role) *call.Session {
	return call.NewSession(role, call.Config{
		Signaler: a.ch,
		Devices:  a.devices,
		NewPeer: func() (call.PeerConnection, error) {
			return webrtcx.NewPeer(a.devices.PopulateEngine, a.cfg.STUN)
		},
		MediaTimeout:       a.cfg.MediaTimeout,
		RingTimeout:        a.cfg.RingTimeout,
		NegotiationTimeout: a.cfg.NegotiationTimeout,
		Notify: func(notice string) {
			pterm.Warning.Println(notice)
		},
		OnState: func(st call.State) {
			util.LogDebug("call state: %s", st)
			if st == call.StateConnected {
				util.LogSuccess("call connected")
			}
		},
		OnLocalStream: a.overlay.AttachLocal,
		OnRemoteTrack: a.overlay.AttachRemote,
		OnClosed:      a.sessionClosed,
	})
}

// startCall handles /call.
func (a *App) startCall() {
	a.mu.Lock()
	if a.sess != nil {
		a.mu.Unlock()
		util.LogWarning("a call is already in progress")
		return
	}
	sess := a.newSessionLocked(call.RoleCaller)
	a.sess = sess
	a.mu.Unlock()

	a.overlay.Attach(sess)
	util.LogInfo("calling…")

	// Initiate blocks through media acquisition.
	go func() {
		if err := sess.Initiate(a.ctx); err != nil {
			util.LogDebug("call attempt did not complete: %v", err)
		}
	}()
}

// acceptCall handles /accept.
func (a *App) acceptCall() {
	a.mu.Lock()
	if !a.ringing || a.sess == nil {
		a.mu.Unlock()
		util.LogWarning("no incoming call to accept")
		return
	}
	a.ringing = false
	sess := a.sess
	a.mu.Unlock()

	a.overlay.Attach(sess)
	go func() {
		if err := sess.AcceptIncoming(a.ctx); err != nil {
			util.LogDebug("accept did not complete: %v", err)
		}
	}()
}

// declineCall handles /decline. Nothing is sent to the remote side.
func (a *App) declineCall() {
	a.mu.Lock()
	if !a.ringing || a.sess == nil {
		a.mu.Unlock()
		util.LogWarning("no incoming call to decline")
		return
	}
	a.ringing = false
	sess := a.sess
	a.mu.Unlock()

	sess.Decline()
	util.LogInfo("call declined")
}

// sessionClosed resets app state after a session tore down, whoever
// initiated the teardown.
func (a *App) sessionClosed() {
	a.mu.Lock()
	a.sess = nil
	a.ringing = false
	a.mu.Unlock()
	a.overlay.Detach()
}

// ---------------------------------------------------------------------------
// Signaling handlers
// ---------------------------------------------------------------------------

// onIncomingCall creates the callee session immediately so the offer —
// which may arrive before the user reacts — lands on a live session.
func (a *App) onIncomingCall() {
	a.mu.Lock()
	if a.sess != nil {
		a.mu.Unlock()
		util.LogWarning("incoming call ignored: a call is already in progress")
		return
	}
	a.sess = a.newSessionLocked(call.RoleCallee)
	a.ringing = true
	a.mu.Unlock()

	pterm.Info.Println("Incoming video call — /accept or /decline")
}

// onOffer forwards the offer on its own goroutine: HandleOffer blocks
// until the user accepts and media is acquired, and the read loop must
// stay free to deliver call-ended in the meantime.
func (a *App) onOffer(offer webrtc.SessionDescription) {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		util.LogDebug("offer ignored: no session")
		return
	}
	go func() {
		if err := sess.HandleOffer(a.ctx, offer); err != nil {
			util.LogDebug("offer handling did not complete: %v", err)
		}
	}()
}

func (a *App) onAnswer(answer webrtc.SessionDescription) {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		util.LogDebug("answer ignored: no session")
		return
	}
	if err := sess.HandleAnswer(answer); err != nil {
		util.LogWarning("failed to apply answer: %v", err)
	}
}

func (a *App) onCandidate(candidate webrtc.ICECandidateInit) {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		util.LogDebug("ICE candidate ignored: no session")
		return
	}
	sess.HandleRemoteCandidate(candidate)
}

func (a *App) onCallEnded() {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return
	}
	sess.HandleRemoteEnd()
}

// onRoomFull shuts the whole client down: a full room means neither chat
// nor calls are available on this connection.
func (a *App) onRoomFull(notice string) {
	if notice == "" {
		notice = "Room is full."
	}
	pterm.Error.Println(notice)
	a.cancel()
}
