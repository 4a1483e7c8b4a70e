package models

import "fmt"

// RawEvent is an inbound chat event exactly as the Slack Events API delivers
// it, before any filtering or normalization.
type RawEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	EditSeq  int    `json:"edit_seq,omitempty"`
}

// IncomingMessage is a normalized channel message. It lives only for the
// duration of one pipeline run.
type IncomingMessage struct {
	ChannelID string
	MessageTS string
	ThreadTS  string
	AuthorID  string
	Text      string
	EditSeq   int
}

// Fingerprint returns the stable identity of the logical message. Redeliveries
// and edits of the same message resolve to the same fingerprint.
func (m IncomingMessage) Fingerprint() Fingerprint {
	return Fingerprint{ChannelID: m.ChannelID, MessageTS: m.MessageTS}
}

// Fingerprint is the dedupe key: channel identifier plus message timestamp.
type Fingerprint struct {
	ChannelID string
	MessageTS string
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s:%s", f.ChannelID, f.MessageTS)
}
