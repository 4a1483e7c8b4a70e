// Package intake normalizes and filters raw channel events before they enter
// the triage pipeline. It is a pure transformation: no network calls, and
// malformed input is dropped with a reason rather than surfaced as an error.
package intake

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/triagebot/pkg/models"
)

// DropReason explains why an event did not enter the pipeline.
type DropReason string

const (
	DropOwnMessage        DropReason = "own-message"
	DropSystemEvent       DropReason = "system-event"
	DropDisallowedChannel DropReason = "disallowed-channel"
	DropDuplicateEdit     DropReason = "duplicate-edit"
	DropMalformed         DropReason = "malformed"
)

// Verdict is the outcome of intake for one raw event: either a normalized
// message or a drop with a reason.
type Verdict struct {
	Message *models.IncomingMessage
	Dropped DropReason
}

// Intake filters raw events against the configured allow-list and bot
// identity.
type Intake struct {
	botUserID       string
	allowedChannels map[string]bool
	reclassifyEdits bool
}

// New builds an Intake. allowedChannels accepts either channel IDs or names;
// matching is exact.
func New(botUserID string, allowedChannels []string, reclassifyEdits bool) *Intake {
	allowed := make(map[string]bool, len(allowedChannels))
	for _, ch := range allowedChannels {
		allowed[ch] = true
	}
	return &Intake{
		botUserID:       botUserID,
		allowedChannels: allowed,
		reclassifyEdits: reclassifyEdits,
	}
}

// Normalize applies the filtering rules in order and returns the verdict.
func (in *Intake) Normalize(ev models.RawEvent) Verdict {
	// Own-bot traffic never re-enters the pipeline.
	if ev.BotID != "" || (in.botUserID != "" && ev.User == in.botUserID) {
		return Verdict{Dropped: DropOwnMessage}
	}

	// Only plain messages are candidates; joins, topic changes and other
	// subtyped events are system noise. Edits are handled separately below.
	if ev.Type != "message" {
		return Verdict{Dropped: DropSystemEvent}
	}
	isEdit := ev.Subtype == "message_changed" || ev.EditSeq > 0
	if ev.Subtype != "" && !isEdit {
		return Verdict{Dropped: DropSystemEvent}
	}

	if !in.allowedChannels[ev.Channel] {
		return Verdict{Dropped: DropDisallowedChannel}
	}

	if isEdit && !in.reclassifyEdits {
		return Verdict{Dropped: DropDuplicateEdit}
	}

	if ev.Channel == "" || ev.TS == "" || strings.TrimSpace(ev.Text) == "" {
		log.Debug().Str("channel", ev.Channel).Str("ts", ev.TS).Msg("dropping malformed event")
		return Verdict{Dropped: DropMalformed}
	}

	return Verdict{Message: &models.IncomingMessage{
		ChannelID: ev.Channel,
		MessageTS: ev.TS,
		ThreadTS:  ev.ThreadTS,
		AuthorID:  ev.User,
		Text:      ev.Text,
		EditSeq:   ev.EditSeq,
	}}
}
