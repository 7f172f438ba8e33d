// Package dto decodes chat platform webhook payloads into domain events.
package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/webitel/im-support-bot/internal/domain/model"
)

const (
	TypeURLVerification   = "url_verification"
	EventMessageReceiveV1 = "im.message.receive_v1"
	EventCardActionV2     = "card.action.trigger"

	senderTypeApp   = "app"
	messageTypeText = "text"
)

var (
	// ErrMalformed marks payloads that cannot be decoded or fail verification.
	ErrMalformed = errors.New("dto: malformed event")
	// ErrIgnored marks well-formed events that need no processing (bot echoes, non-text messages).
	ErrIgnored = errors.New("dto: ignored event")
)

// [SCHEMA_2.0] THE CURRENT EVENT ENVELOPE FROM THE PLATFORM
type Envelope struct {
	// Bare verification request fields.
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`

	Schema string          `json:"schema"`
	Header *Header         `json:"header"`
	Event  json.RawMessage `json:"event"`
}

type Header struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Token      string `json:"token"`
	AppID      string `json:"app_id"`
	TenantKey  string `json:"tenant_key"`
}

type UserID struct {
	OpenID  string `json:"open_id"`
	UnionID string `json:"union_id"`
	UserID  string `json:"user_id"`
}

type MessageReceiveEvent struct {
	Sender struct {
		SenderID   UserID `json:"sender_id"`
		SenderType string `json:"sender_type"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		ChatID      string `json:"chat_id"`
		ChatType    string `json:"chat_type"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
	} `json:"message"`
}

type CardActionEvent struct {
	Operator UserID `json:"operator"`
	Action   struct {
		Tag   string         `json:"tag"`
		Value map[string]any `json:"value"`
	} `json:"action"`
	Context struct {
		OpenChatID    string `json:"open_chat_id"`
		OpenMessageID string `json:"open_message_id"`
	} `json:"context"`
}

type textContent struct {
	Text string `json:"text"`
}

// mentionPlaceholder matches the platform's "@_user_1" mention tokens.
var mentionPlaceholder = regexp.MustCompile(`@_user_\d+`)

// DecodeEnvelope turns a raw webhook body into an InboundEvent.
// When verificationToken is set, events carrying a different token are rejected as malformed.
func DecodeEnvelope(raw []byte, verificationToken string) (*model.InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.Type == TypeURLVerification {
		if err := checkToken(verificationToken, env.Token); err != nil {
			return nil, err
		}
		if env.Challenge == "" {
			return nil, fmt.Errorf("%w: empty challenge", ErrMalformed)
		}
		return &model.InboundEvent{
			Type:       model.EventURLVerification,
			Challenge:  env.Challenge,
			ReceivedAt: time.Now(),
		}, nil
	}

	if env.Header == nil || env.Header.EventID == "" {
		return nil, fmt.Errorf("%w: missing header.event_id", ErrMalformed)
	}
	if err := checkToken(verificationToken, env.Header.Token); err != nil {
		return nil, err
	}

	ev := &model.InboundEvent{
		ID:         env.Header.EventID,
		ReceivedAt: time.Now(),
		Raw:        raw,
	}

	switch env.Header.EventType {
	case EventMessageReceiveV1:
		return decodeMessage(ev, env.Event)
	case EventCardActionV2:
		return decodeCardAction(ev, env.Event)
	default:
		return nil, fmt.Errorf("%w: unsupported event type %q", ErrIgnored, env.Header.EventType)
	}
}

func decodeMessage(ev *model.InboundEvent, raw json.RawMessage) (*model.InboundEvent, error) {
	var body MessageReceiveEvent
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: message body: %v", ErrMalformed, err)
	}
	if body.Sender.SenderType == senderTypeApp {
		// [LOOP_GUARD] Never answer our own messages.
		return nil, fmt.Errorf("%w: bot-authored message", ErrIgnored)
	}
	if body.Message.MessageType != messageTypeText {
		return nil, fmt.Errorf("%w: message type %q", ErrIgnored, body.Message.MessageType)
	}

	var content textContent
	if err := json.Unmarshal([]byte(body.Message.Content), &content); err != nil {
		return nil, fmt.Errorf("%w: message content: %v", ErrMalformed, err)
	}

	ev.Type = model.EventMessageReceived
	ev.ConversationID = body.Message.ChatID
	ev.SenderID = body.Sender.SenderID.OpenID
	ev.MessageID = body.Message.MessageID
	ev.Text = strings.TrimSpace(mentionPlaceholder.ReplaceAllString(content.Text, ""))
	return ev, nil
}

func decodeCardAction(ev *model.InboundEvent, raw json.RawMessage) (*model.InboundEvent, error) {
	var body CardActionEvent
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: card action body: %v", ErrMalformed, err)
	}

	ev.Type = model.EventCardAction
	ev.ConversationID = body.Context.OpenChatID
	ev.SenderID = body.Operator.OpenID
	ev.MessageID = body.Context.OpenMessageID
	ev.Action = make(map[string]string, len(body.Action.Value))
	for k, v := range body.Action.Value {
		ev.Action[k] = fmt.Sprint(v)
	}
	return ev, nil
}

func checkToken(expected, got string) error {
	if expected != "" && got != expected {
		return fmt.Errorf("%w: verification token mismatch", ErrMalformed)
	}
	return nil
}
