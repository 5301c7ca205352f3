package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func messageEvent(msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    types.NewJID("120363000000000000", types.GroupServer),
				Sender:  types.JID{User: "254700000001", Device: 3, Server: types.DefaultUserServer},
				IsGroup: true,
			},
			ID:        "ABC",
			PushName:  "Jane",
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func TestConvertMessageConversation(t *testing.T) {
	m := convertMessage(messageEvent(&waE2E.Message{Conversation: proto.String("  .ping  ")}))
	require.NotNil(t, m)
	assert.Equal(t, ".ping", m.Body)
	assert.Equal(t, "120363000000000000@g.us", m.Key.Chat)
	assert.Equal(t, "254700000001@s.whatsapp.net", m.Key.Sender)
	assert.Equal(t, "ABC", m.Key.ID)
	assert.True(t, m.IsGroup)
	assert.Equal(t, "Jane", m.PushName)
}

func TestConvertMessageUnwrapsEphemeralAndReadsContext(t *testing.T) {
	inner := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(".kick @254700000009"),
			ContextInfo: &waE2E.ContextInfo{
				MentionedJID: []string{"254700000009@s.whatsapp.net"},
				Participant:  proto.String("254700000010@s.whatsapp.net"),
			},
		},
	}
	m := convertMessage(messageEvent(&waE2E.Message{
		EphemeralMessage: &waE2E.FutureProofMessage{Message: inner},
	}))
	require.NotNil(t, m)
	assert.Equal(t, ".kick @254700000009", m.Body)
	assert.Equal(t, []string{"254700000009@s.whatsapp.net"}, m.Mentions)
	assert.Equal(t, "254700000010@s.whatsapp.net", m.QuotedSender)
}

func TestConvertMessageCaption(t *testing.T) {
	m := convertMessage(messageEvent(&waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")},
	}))
	require.NotNil(t, m)
	assert.Equal(t, "look", m.Body)
}

func TestConvertMessageSkipsProtocolPayloads(t *testing.T) {
	assert.Nil(t, convertMessage(messageEvent(&waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{}})))
	assert.Nil(t, convertMessage(messageEvent(&waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("x")}})))
	assert.Nil(t, convertMessage(&events.Message{}))
}
