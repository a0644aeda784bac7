package whatsapp

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/nextlevelbuilder/luxbot/internal/dispatch"
	"github.com/nextlevelbuilder/luxbot/internal/session"
)

// Close statuses reported for events that carry no numeric reason.
const (
	StatusLoggedOut       = 401
	StatusQRTimeout       = 408
	StatusConnectionLost  = 428
	StatusStreamReplaced  = 440
	StatusConnectionError = 500
)

// connectionUpdate maps a whatsmeow event onto a lifecycle event.
func connectionUpdate(evt any) (session.ConnectionUpdate, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return session.ConnectionUpdate{Connection: session.ConnOpen}, true
	case *events.LoggedOut:
		return session.ConnectionUpdate{Connection: session.ConnClose, StatusCode: StatusLoggedOut}, true
	case *events.StreamReplaced:
		return session.ConnectionUpdate{Connection: session.ConnClose, StatusCode: StatusStreamReplaced}, true
	case *events.Disconnected:
		return session.ConnectionUpdate{Connection: session.ConnClose, StatusCode: StatusConnectionLost}, true
	case *events.ConnectFailure:
		return session.ConnectionUpdate{Connection: session.ConnClose, StatusCode: int(e.Reason)}, true
	case *events.ClientOutdated:
		return session.ConnectionUpdate{Connection: session.ConnClose, StatusCode: StatusConnectionError}, true
	}
	return session.ConnectionUpdate{}, false
}

// toInbound wraps a received message for the dispatcher.
func toInbound(evt *events.Message) *dispatch.Inbound {
	info := evt.Info
	return &dispatch.Inbound{
		ID:        info.ID,
		Chat:      info.Chat.String(),
		Sender:    info.Sender.ToNonAD().String(),
		PushName:  info.PushName,
		FromMe:    info.IsFromMe,
		IsGroup:   info.IsGroup,
		Broadcast: info.Chat.Server == types.BroadcastServer,
		Timestamp: info.Timestamp,
		Message:   evt.Message,
	}
}

// textMessage builds an outgoing text, quoting the message being answered.
func textMessage(text string, quoted *dispatch.Inbound) *waE2E.Message {
	if quoted == nil || quoted.ID == "" {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	ci := &waE2E.ContextInfo{
		StanzaID:      proto.String(quoted.ID),
		QuotedMessage: quoted.Message,
	}
	if quoted.Sender != "" {
		ci.Participant = proto.String(quoted.Sender)
	}
	return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String(text),
		ContextInfo: ci,
	}}
}

// identityCreds is the identity part of a linked device, mirrored into the
// session's auth state on pairing and on every open.
func identityCreds(id *types.JID, lid types.JID, pushName, platform, businessName string) map[string]any {
	creds := map[string]any{"registered": id != nil}
	if id != nil {
		creds["me"] = id.String()
	}
	if !lid.IsEmpty() {
		creds["lid"] = lid.String()
	}
	if pushName != "" {
		creds["pushName"] = pushName
	}
	if platform != "" {
		creds["platform"] = platform
	}
	if businessName != "" {
		creds["businessName"] = businessName
	}
	return creds
}
