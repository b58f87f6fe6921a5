// Package signaling implements the message channel between the two
// participants of a room: chat messages, call-control events, and the
// SDP/ICE exchange all travel over the same WebSocket connection to a
// relay server.
package signaling

// MessageType identifies the kind of signaling message.
type MessageType string

// Client → server types.
const (
	MsgTypeJoinRoom     MessageType = "join-room"
	MsgTypeChat         MessageType = "chat-message"
	MsgTypeIncomingCall MessageType = "incoming-call"
	MsgTypeOffer        MessageType = "webrtc-offer"
	MsgTypeAnswer       MessageType = "webrtc-answer"
	MsgTypeCandidate    MessageType = "ice-candidate"
	MsgTypeEndCall      MessageType = "end-call"
)

// Server → client types (in addition to the relayed ones above).
const (
	MsgTypeCallEnded MessageType = "call-ended"
	MsgTypeRoomFull  MessageType = "room-full"
)

// Message is the JSON envelope exchanged over the WebSocket. A single flat
// structure covers every message type; unused fields are omitted.
type Message struct {
	Type      MessageType `json:"type"`
	Room      string      `json:"room,omitempty"`      // join-room only
	Sender    string      `json:"sender,omitempty"`    // chat-message: participant identity
	Text      string      `json:"text,omitempty"`      // chat-message body
	SDP       string      `json:"sdp,omitempty"`       // webrtc-offer / webrtc-answer
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
	Notice    string      `json:"message,omitempty"`   // room-full: user-facing reason
}
