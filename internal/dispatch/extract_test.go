package dispatch

import (
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
		ok   bool
	}{
		{"nil", nil, "", false},
		{"empty", &waE2E.Message{}, "", false},
		{"conversation", &waE2E.Message{Conversation: proto.String(".ping")}, ".ping", true},
		{"blank conversation falls through", &waE2E.Message{
			Conversation:        proto.String("   "),
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")},
		}, "hi", true},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String(" .help ")}}, ".help", true},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("cap")}}, "cap", true},
		{"video caption", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("vid")}}, "vid", true},
		{"document caption", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("doc")}}, "doc", true},
		{"document with caption", &waE2E.Message{DocumentWithCaptionMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("wrapped doc")}},
		}}, "wrapped doc", true},
		{"image without caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "", false},
		{"button id", &waE2E.Message{ButtonsResponseMessage: &waE2E.ButtonsResponseMessage{SelectedButtonID: proto.String("btn-1")}}, "btn-1", true},
		{"list title before row", &waE2E.Message{ListResponseMessage: &waE2E.ListResponseMessage{
			Title:             proto.String("Pick"),
			SingleSelectReply: &waE2E.ListResponseMessage_SingleSelectReply{SelectedRowID: proto.String("row")},
		}}, "Pick", true},
		{"list row", &waE2E.Message{ListResponseMessage: &waE2E.ListResponseMessage{
			SingleSelectReply: &waE2E.ListResponseMessage_SingleSelectReply{SelectedRowID: proto.String("row-7")},
		}}, "row-7", true},
		{"template reply id", &waE2E.Message{TemplateButtonReplyMessage: &waE2E.TemplateButtonReplyMessage{SelectedID: proto.String("tpl")}}, "tpl", true},
		{"interactive body", &waE2E.Message{InteractiveResponseMessage: &waE2E.InteractiveResponseMessage{
			Body: &waE2E.InteractiveResponseMessage_Body{Text: proto.String("flow")},
		}}, "flow", true},
		{"ephemeral", &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{Conversation: proto.String(".eph")},
		}}, ".eph", true},
		{"view once", &waE2E.Message{ViewOnceMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("once")}},
		}}, "once", true},
		{"view once v2", &waE2E.Message{ViewOnceMessageV2: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("v2")}},
		}}, "v2", true},
		{"device sent", &waE2E.Message{DeviceSentMessage: &waE2E.DeviceSentMessage{
			Message: &waE2E.Message{Conversation: proto.String("mine")},
		}}, "mine", true},
		{"wrapper without inner", &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{}}, "", false},
		{"quoted", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			ContextInfo: &waE2E.ContextInfo{QuotedMessage: &waE2E.Message{Conversation: proto.String("original")}},
		}}, "original", true},
		{"own text beats quoted", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String("reply"),
			ContextInfo: &waE2E.ContextInfo{QuotedMessage: &waE2E.Message{Conversation: proto.String("original")}},
		}}, "reply", true},
		{"quoted inside ephemeral", &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				ContextInfo: &waE2E.ContextInfo{QuotedMessage: &waE2E.Message{Conversation: proto.String("deep")}},
			}},
		}}, "deep", true},
		{"context info without quote", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			ContextInfo: &waE2E.ContextInfo{},
		}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractText(tt.msg)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractText = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExtractText_NestedWrappersOnlyOneLevel(t *testing.T) {
	msg := &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{
		Message: &waE2E.Message{ViewOnceMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{Conversation: proto.String("two levels down")},
		}},
	}}
	if got, ok := ExtractText(msg); ok {
		t.Errorf("expected absent for a second wrapper level, got %q", got)
	}
}
