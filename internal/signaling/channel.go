package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/util"
)

// Handlers holds the callbacks invoked by the channel's read loop. Any nil
// handler means the corresponding event is dropped. Handlers must not block
// the read loop for long; long-running work (answering an offer while media
// is still being acquired) belongs on its own goroutine.
type Handlers struct {
	OnChat         func(sender, text string)
	OnIncomingCall func()
	OnOffer        func(webrtc.SessionDescription)
	OnAnswer       func(webrtc.SessionDescription)
	OnCandidate    func(webrtc.ICECandidateInit)
	OnCallEnded    func()
	OnRoomFull     func(notice string)
}

// Channel is the persistent bidirectional connection to the relay server.
// It owns the WebSocket for its whole lifetime and serializes all writes.
//
// On connect the channel assigns itself an opaque participant identity,
// scoped to this connection. The identity travels on outgoing chat messages
// so the receiving side can tell own from other.
type Channel struct {
	conn *websocket.Conn
	id   string

	writeMu  sync.Mutex
	handlers Handlers
}

// Connect dials the relay server at the given WebSocket URL.
func Connect(ctx context.Context, url string) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay server: %w", err)
	}
	return &Channel{conn: conn, id: uuid.NewString()}, nil
}

// ID returns the participant identity assigned to this connection.
func (c *Channel) ID() string { return c.id }

// SetHandlers registers the event callbacks. Must be called before Listen.
func (c *Channel) SetHandlers(h Handlers) { c.handlers = h }

// Close tears down the WebSocket connection, which also stops Listen.
func (c *Channel) Close() error { return c.conn.Close() }

// send writes one message to the WebSocket, guarded by a mutex.
func (c *Channel) send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Join enters the given room. All subsequent traffic is scoped to it.
func (c *Channel) Join(roomID string) error {
	return c.send(Message{Type: MsgTypeJoinRoom, Room: roomID})
}

// SendChat sends a chat message to the other participant.
func (c *Channel) SendChat(text string) error {
	return c.send(Message{Type: MsgTypeChat, Sender: c.id, Text: text})
}

// SendIncomingCall notifies the other participant that a call is starting.
func (c *Channel) SendIncomingCall() error {
	return c.send(Message{Type: MsgTypeIncomingCall})
}

// SendOffer sends an SDP offer.
func (c *Channel) SendOffer(sdp webrtc.SessionDescription) error {
	return c.send(Message{Type: MsgTypeOffer, SDP: sdp.SDP})
}

// SendAnswer sends an SDP answer.
func (c *Channel) SendAnswer(sdp webrtc.SessionDescription) error {
	return c.send(Message{Type: MsgTypeAnswer, SDP: sdp.SDP})
}

// SendCandidate sends one local ICE candidate.
func (c *Channel) SendCandidate(candidate webrtc.ICECandidateInit) error {
	data, err := json.Marshal(candidate)
	if err != nil {
		return err
	}
	return c.send(Message{Type: MsgTypeCandidate, Candidate: string(data)})
}

// SendEndCall notifies the other participant that the call is over.
func (c *Channel) SendEndCall() error {
	return c.send(Message{Type: MsgTypeEndCall})
}

// Listen runs the read loop until the connection closes or ctx is
// cancelled. Malformed messages are logged and skipped; they never bring
// the loop down. Events with no registered handler are dropped.
func (c *Channel) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay connection lost: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogWarning("dropping malformed signaling message: %v", err)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch routes one inbound message to its handler. Decode failures stay
// contained here: a bad payload is a log entry, never an escaping error.
func (c *Channel) dispatch(msg Message) {
	switch msg.Type {
	case MsgTypeChat:
		if c.handlers.OnChat != nil {
			c.handlers.OnChat(msg.Sender, msg.Text)
		}

	case MsgTypeIncomingCall:
		if c.handlers.OnIncomingCall != nil {
			c.handlers.OnIncomingCall()
		}

	case MsgTypeOffer:
		if c.handlers.OnOffer != nil {
			c.handlers.OnOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP})
		}

	case MsgTypeAnswer:
		if c.handlers.OnAnswer != nil {
			c.handlers.OnAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP})
		}

	case MsgTypeCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
			util.LogWarning("dropping malformed ICE candidate: %v", err)
			return
		}
		if c.handlers.OnCandidate != nil {
			c.handlers.OnCandidate(init)
		}

	case MsgTypeCallEnded:
		if c.handlers.OnCallEnded != nil {
			c.handlers.OnCallEnded()
		}

	case MsgTypeRoomFull:
		if c.handlers.OnRoomFull != nil {
			c.handlers.OnRoomFull(msg.Notice)
		}

	default:
		util.LogDebug("ignoring signaling message of unknown type %q", msg.Type)
	}
}
