package dto

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

func TestDecodeEnvelope_URLVerification(t *testing.T) {
	ev, err := DecodeEnvelope([]byte(`{"type":"url_verification","challenge":"abc123","token":"tkn"}`), "tkn")
	require.NoError(t, err)
	require.Equal(t, model.EventURLVerification, ev.Type)
	require.Equal(t, "abc123", ev.Challenge)
	require.True(t, ev.IsTerminal())
}

func TestDecodeEnvelope_TokenMismatch(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":"url_verification","challenge":"abc123","token":"other"}`), "tkn")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeEnvelope_MessageReceived(t *testing.T) {
	raw := `{
		"schema":"2.0",
		"header":{"event_id":"ev-1","event_type":"im.message.receive_v1","token":"tkn"},
		"event":{
			"sender":{"sender_id":{"open_id":"ou_1"},"sender_type":"user"},
			"message":{"message_id":"om_1","chat_id":"oc_1","message_type":"text","content":"{\"text\":\"@_user_1 login is broken\"}"}
		}
	}`
	ev, err := DecodeEnvelope([]byte(raw), "tkn")
	require.NoError(t, err)
	require.Equal(t, model.EventMessageReceived, ev.Type)
	require.Equal(t, "ev-1", ev.ID)
	require.Equal(t, "oc_1", ev.ConversationID)
	require.Equal(t, "ou_1", ev.SenderID)
	require.Equal(t, "login is broken", ev.Text)
}

func TestDecodeEnvelope_CardAction(t *testing.T) {
	raw := `{
		"schema":"2.0",
		"header":{"event_id":"ev-2","event_type":"card.action.trigger"},
		"event":{
			"operator":{"open_id":"ou_1"},
			"action":{"tag":"button","value":{"action":"create_ticket","category":"billing"}},
			"context":{"open_chat_id":"oc_1","open_message_id":"om_9"}
		}
	}`
	ev, err := DecodeEnvelope([]byte(raw), "")
	require.NoError(t, err)
	require.Equal(t, model.EventCardAction, ev.Type)
	require.Equal(t, "oc_1", ev.ConversationID)
	require.Equal(t, map[string]string{"action": "create_ticket", "category": "billing"}, ev.Action)
}

func TestDecodeEnvelope_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{`, ErrMalformed},
		{"missing header", `{"schema":"2.0"}`, ErrMalformed},
		{"unknown type", `{"header":{"event_id":"e","event_type":"im.chat.updated_v1"},"event":{}}`, ErrIgnored},
		{"bot echo", `{"header":{"event_id":"e","event_type":"im.message.receive_v1"},"event":{"sender":{"sender_type":"app"},"message":{"message_type":"text","content":"{}"}}}`, ErrIgnored},
		{"image", `{"header":{"event_id":"e","event_type":"im.message.receive_v1"},"event":{"sender":{"sender_type":"user"},"message":{"message_type":"image","content":"{}"}}}`, ErrIgnored},
		{"bad content", `{"header":{"event_id":"e","event_type":"im.message.receive_v1"},"event":{"sender":{"sender_type":"user"},"message":{"message_type":"text","content":"nope"}}}`, ErrMalformed},
	}
	for _, tc := range cases {
		_, err := DecodeEnvelope([]byte(tc.raw), "")
		require.ErrorIs(t, err, tc.want, tc.name)
	}
}
