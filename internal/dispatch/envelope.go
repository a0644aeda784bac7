package dispatch

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// Inbound is one received message as seen by the dispatcher. Message is the
// protocol envelope; it is never mutated here.
type Inbound struct {
	ID        string
	Chat      string // JID of the conversation
	Sender    string // JID of the author
	PushName  string
	FromMe    bool
	IsGroup   bool
	Broadcast bool // status updates and broadcast lists
	Timestamp time.Time
	Message   *waE2E.Message
}

// SenderKey identifies the author for rate limiting and lanes.
func (m *Inbound) SenderKey() string {
	if m.Sender != "" {
		return m.Sender
	}
	return m.Chat
}
