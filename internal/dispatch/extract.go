package dispatch

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// ExtractText returns the user-visible text of a message envelope.
// Candidates are tried in a fixed order and the first non-blank one wins;
// known wrappers are unwrapped one level, then the quoted message is tried.
func ExtractText(msg *waE2E.Message) (text string, ok bool) {
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()
	if msg == nil {
		return "", false
	}
	if t, ok := directText(msg); ok {
		return t, true
	}
	for _, inner := range wrapped(msg) {
		if t, ok := directText(inner); ok {
			return t, true
		}
	}
	if q := quoted(msg); q != nil {
		if t, ok := directText(q); ok {
			return t, true
		}
		for _, inner := range wrapped(q) {
			if t, ok := directText(inner); ok {
				return t, true
			}
		}
	}
	return "", false
}

// directText tries every text-bearing field of msg itself.
func directText(msg *waE2E.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	candidates := []func() string{
		msg.GetConversation,
		msg.GetExtendedTextMessage().GetText,
		msg.GetImageMessage().GetCaption,
		msg.GetVideoMessage().GetCaption,
		msg.GetDocumentMessage().GetCaption,
		msg.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage().GetCaption,
		msg.GetButtonsResponseMessage().GetSelectedDisplayText,
		msg.GetButtonsResponseMessage().GetSelectedButtonID,
		msg.GetListResponseMessage().GetTitle,
		msg.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID,
		msg.GetTemplateButtonReplyMessage().GetSelectedDisplayText,
		msg.GetTemplateButtonReplyMessage().GetSelectedID,
		msg.GetInteractiveResponseMessage().GetBody().GetText,
	}
	for _, c := range candidates {
		if t := strings.TrimSpace(c()); t != "" {
			return t, true
		}
	}
	return "", false
}

// wrapped returns the inner envelopes of the known single-level wrappers.
func wrapped(msg *waE2E.Message) []*waE2E.Message {
	var out []*waE2E.Message
	for _, inner := range []*waE2E.Message{
		msg.GetEphemeralMessage().GetMessage(),
		msg.GetViewOnceMessage().GetMessage(),
		msg.GetViewOnceMessageV2().GetMessage(),
		msg.GetViewOnceMessageV2Extension().GetMessage(),
		msg.GetDeviceSentMessage().GetMessage(),
	} {
		if inner != nil {
			out = append(out, inner)
		}
	}
	return out
}

// quoted returns the replied-to message, looking through one wrapper level.
func quoted(msg *waE2E.Message) *waE2E.Message {
	if q := contextQuoted(msg); q != nil {
		return q
	}
	for _, inner := range wrapped(msg) {
		if q := contextQuoted(inner); q != nil {
			return q
		}
	}
	return nil
}

func contextQuoted(msg *waE2E.Message) *waE2E.Message {
	for _, ci := range []*waE2E.ContextInfo{
		msg.GetExtendedTextMessage().GetContextInfo(),
		msg.GetImageMessage().GetContextInfo(),
		msg.GetVideoMessage().GetContextInfo(),
		msg.GetDocumentMessage().GetContextInfo(),
	} {
		if q := ci.GetQuotedMessage(); q != nil {
			return q
		}
	}
	return nil
}
