package core

import "strings"

// MaxTextLength is the default bound on the text of a relayed message, in bytes.
const MaxTextLength = 4096

// Message is a chat message in the broadcast path. It carries no id or timestamp.
type Message struct {
	Sender string
	Text   string
}

// Valid reports whether the message is worth relaying with texts capped at limit bytes.
func (m Message) Valid(limit int) bool {
	if len(m.Text) > limit {
		return false
	}
	return strings.TrimSpace(m.Text) != ""
}
