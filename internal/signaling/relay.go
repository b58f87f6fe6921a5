package signaling

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/duet/internal/util"
)

// RoomCapacity is the number of participants a room can hold. The whole
// client is built for exactly two people; a third joiner is turned away.
const RoomCapacity = 2

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay is a minimal room-scoped message relay for two participants. It
// forwards every message from one room member to the other, rewrites
// end-call into call-ended for the receiving side, and rejects joins
// beyond RoomCapacity with a room-full notice.
//
// It exists so the default localhost endpoint has something to run against
// during development and tests; it does no persistence, authentication, or
// fan-out beyond the two-party forward.
type Relay struct {
	mu    sync.Mutex
	rooms map[string][]*relayMember

	listener net.Listener
}

type relayMember struct {
	conn    *websocket.Conn
	room    string
	writeMu sync.Mutex
}

func (m *relayMember) write(msg Message) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteJSON(msg)
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{rooms: make(map[string][]*relayMember)}
}

// Handler returns the HTTP handler serving the /ws endpoint.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWS)
	return mux
}

// ListenAndServe serves the relay on addr until ctx is cancelled.
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	r.listener = listener

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	util.LogInfo("relay listening on %s", listener.Addr())
	if err := http.Serve(listener, r.Handler()); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Close shuts down the listener, preventing new connections.
func (r *Relay) Close() {
	if r.listener != nil {
		r.listener.Close()
	}
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	go r.serve(&relayMember{conn: conn})
}

// serve runs the read loop for one connection. The first message must be a
// join-room; everything after it is forwarded to the other room member.
func (r *Relay) serve(m *relayMember) {
	defer m.conn.Close()

	for {
		var msg Message
		if err := m.conn.ReadJSON(&msg); err != nil {
			r.leave(m)
			return
		}

		switch msg.Type {
		case MsgTypeJoinRoom:
			if !r.join(m, msg.Room) {
				m.write(Message{
					Type:   MsgTypeRoomFull,
					Notice: "Room is full. Only two participants are allowed.",
				})
				return
			}
			util.LogDebug("participant joined %s", msg.Room)

		case MsgTypeChat, MsgTypeIncomingCall, MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate:
			r.forward(m, msg)

		case MsgTypeEndCall:
			// The receiving side observes the call as ended by the peer.
			msg.Type = MsgTypeCallEnded
			r.forward(m, msg)

		default:
			util.LogDebug("relay ignoring message of type %q", msg.Type)
		}
	}
}

// join adds m to roomID. Returns false when the room is already full.
func (r *Relay) join(m *relayMember, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.room != "" {
		return true // already joined, ignore repeat
	}
	if len(r.rooms[roomID]) >= RoomCapacity {
		return false
	}
	m.room = roomID
	r.rooms[roomID] = append(r.rooms[roomID], m)
	return true
}

// leave removes m from its room and lets the other member know any call in
// flight is over, since the disconnected side can no longer end it itself.
func (r *Relay) leave(m *relayMember) {
	r.mu.Lock()
	if m.room == "" {
		r.mu.Unlock()
		return
	}
	members := r.rooms[m.room]
	for i, other := range members {
		if other == m {
			r.rooms[m.room] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(r.rooms[m.room]) == 0 {
		delete(r.rooms, m.room)
	}
	remaining := append([]*relayMember(nil), r.rooms[m.room]...)
	r.mu.Unlock()

	for _, other := range remaining {
		if err := other.write(Message{Type: MsgTypeCallEnded}); err != nil {
			util.LogDebug("relay notify on leave failed: %v", err)
		}
	}
}

// forward delivers msg to every other member of m's room.
func (r *Relay) forward(m *relayMember, msg Message) {
	r.mu.Lock()
	var peers []*relayMember
	for _, other := range r.rooms[m.room] {
		if other != m {
			peers = append(peers, other)
		}
	}
	r.mu.Unlock()

	for _, other := range peers {
		if err := other.write(msg); err != nil {
			util.LogDebug("relay forward failed: %v", err)
		}
	}
}
