// Package proto defines the chat relay wire format: one JSON object per text frame.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned for frames that do not carry a chat message.
var ErrMalformed = errors.New("malformed message")

// ChatMessage is the only frame exchanged in both directions.
type ChatMessage struct {
	User string `json:"user"`
	Text string `json:"text"`
}

type rawMessage struct {
	User *string `json:"user"`
	Text *string `json:"text"`
}

// Decode parses a frame. A missing or non-string text field is malformed; a missing user is allowed.
func Decode(data []byte) (ChatMessage, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Text == nil {
		return ChatMessage{}, fmt.Errorf("%w: text is required", ErrMalformed)
	}

	msg := ChatMessage{Text: *raw.Text}
	if raw.User != nil {
		msg.User = *raw.User
	}
	return msg, nil
}

// Encode renders a frame.
func Encode(msg ChatMessage) ([]byte, error) {
	return json.Marshal(msg)
}
