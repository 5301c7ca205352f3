package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// unwrap strips the ephemeral / view-once envelopes around a message.
func unwrap(msg *waE2E.Message) *waE2E.Message {
	for i := 0; i < 4 && msg != nil; i++ {
		switch {
		case msg.GetEphemeralMessage().GetMessage() != nil:
			msg = msg.GetEphemeralMessage().GetMessage()
		case msg.GetViewOnceMessage().GetMessage() != nil:
			msg = msg.GetViewOnceMessage().GetMessage()
		case msg.GetViewOnceMessageV2().GetMessage() != nil:
			msg = msg.GetViewOnceMessageV2().GetMessage()
		case msg.GetDocumentWithCaptionMessage().GetMessage() != nil:
			msg = msg.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return msg
		}
	}
	return msg
}

// messageText extracts the user-visible text of a message.
func messageText(msg *waE2E.Message) string {
	msg = unwrap(msg)
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage().GetCaption() != "":
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage().GetCaption() != "":
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage().GetCaption() != "":
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	msg = unwrap(msg)
	switch {
	case msg.GetExtendedTextMessage().GetContextInfo() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage().GetContextInfo() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage().GetContextInfo() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	}
	return nil
}

// convertMessage maps a whatsmeow message event to a Message. Protocol-only
// payloads (receipts, key distribution, reactions) yield nil.
func convertMessage(evt *events.Message) *Message {
	if evt == nil || evt.Message == nil {
		return nil
	}
	inner := unwrap(evt.Message)
	if inner.GetProtocolMessage() != nil || inner.GetReactionMessage() != nil {
		return nil
	}
	if inner.GetSenderKeyDistributionMessage() != nil && messageText(inner) == "" {
		return nil
	}

	m := &Message{
		Key: MessageKey{
			Chat:   evt.Info.Chat.String(),
			Sender: evt.Info.Sender.ToNonAD().String(),
			ID:     evt.Info.ID,
			FromMe: evt.Info.IsFromMe,
		},
		PushName:  evt.Info.PushName,
		Body:      strings.TrimSpace(messageText(inner)),
		Timestamp: evt.Info.Timestamp,
		IsGroup:   evt.Info.IsGroup,
	}
	if ci := contextInfo(inner); ci != nil {
		m.Mentions = append(m.Mentions, ci.GetMentionedJID()...)
		m.QuotedSender = ci.GetParticipant()
	}
	return m
}
