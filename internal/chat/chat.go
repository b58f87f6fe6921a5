// Package chat keeps the in-memory message log for the chat panel. It is
// independent of the call subsystem: messages are appended in receipt
// order and styled own-vs-other by comparing the sender to the local
// participant identity.
package chat

import "sync"

// Message is one chat line.
type Message struct {
	Text   string
	Sender string
}

// Log is the append-only message history for one connection. Nothing is
// persisted; the log lives and dies with the process.
type Log struct {
	self string

	mu   sync.Mutex
	msgs []Message
}

// NewLog creates an empty log for the given local participant identity.
func NewLog(self string) *Log {
	return &Log{self: self}
}

// Append adds one message at the end of the history.
func (l *Log) Append(msg Message) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

// All returns a snapshot of the history in receipt order.
func (l *Log) All() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// Own reports whether msg was sent by the local participant.
func (l *Log) Own(msg Message) bool {
	return msg.Sender == l.self
}
