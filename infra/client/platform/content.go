package platform

import (
	"encoding/json"
	"fmt"

	"github.com/webitel/im-support-bot/internal/domain/model"
)

const (
	msgTypeText        = "text"
	msgTypeInteractive = "interactive"
)

type textBody struct {
	Text string `json:"text"`
}

type card struct {
	Config   cardConfig    `json:"config"`
	Elements []cardElement `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type cardElement struct {
	Tag     string       `json:"tag"`
	Text    *cardText    `json:"text,omitempty"`
	Actions []cardButton `json:"actions,omitempty"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardButton struct {
	Tag   string            `json:"tag"`
	Text  cardText          `json:"text"`
	Type  string            `json:"type"`
	Value map[string]string `json:"value"`
}

// encodeContent renders a plain text message, or an interactive card when buttons are attached.
func encodeContent(msg model.OutboundMessage) (string, string, error) {
	if len(msg.Buttons) == 0 {
		raw, err := json.Marshal(textBody{Text: msg.Text})
		if err != nil {
			return "", "", fmt.Errorf("platform: encode text: %w", err)
		}
		return msgTypeText, string(raw), nil
	}

	buttons := make([]cardButton, 0, len(msg.Buttons))
	for i, b := range msg.Buttons {
		kind := "default"
		if i == 0 {
			kind = "primary"
		}
		buttons = append(buttons, cardButton{
			Tag:   "button",
			Text:  cardText{Tag: "plain_text", Content: b.Text},
			Type:  kind,
			Value: b.Value,
		})
	}

	raw, err := json.Marshal(card{
		Config: cardConfig{WideScreenMode: true},
		Elements: []cardElement{
			{Tag: "div", Text: &cardText{Tag: "lark_md", Content: msg.Text}},
			{Tag: "action", Actions: buttons},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("platform: encode card: %w", err)
	}
	return msgTypeInteractive, string(raw), nil
}
