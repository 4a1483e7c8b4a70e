// Package notify announces created tickets back to chat. The thread reply and
// the channel announcement are independent surfaces: each is flagged in the
// dedupe store once delivered, and a re-dispatch only sends the surfaces that
// have no flag yet. Chat delivery is at-least-once; the flags make repeats
// rare, not impossible.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/triagebot/internal/dedupe"
	"github.com/triagebot/internal/retry"
	"github.com/triagebot/pkg/models"
)

// Messenger is the chat surface the dispatcher needs.
type Messenger interface {
	PostMessage(ctx context.Context, channelID, threadTS, text string) error
}

// Config configures notification delivery.
type Config struct {
	NotificationChannel string // empty disables the channel announcement
	Retry               retry.Config
}

// Notification describes one created ticket to announce.
type Notification struct {
	Message   models.IncomingMessage
	Context   models.MessageContext
	TicketKey string
	TicketURL string
}

// Dispatcher delivers ticket notifications idempotently.
type Dispatcher struct {
	store     dedupe.Store
	messenger Messenger
	cfg       Config
}

// New creates a Dispatcher.
func New(store dedupe.Store, messenger Messenger, cfg Config) *Dispatcher {
	return &Dispatcher{store: store, messenger: messenger, cfg: cfg}
}

// Dispatch sends the thread reply and the channel announcement for a created
// ticket, skipping any surface already flagged as delivered. A surface failure
// is logged and reported but never blocks the other surface; the ticket
// outcome itself is unaffected either way.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	fp := n.Message.Fingerprint()

	rec, ok, err := d.store.Get(ctx, fp)
	if err != nil {
		return fmt.Errorf("load record for %s: %w", fp, err)
	}
	if !ok {
		return fmt.Errorf("no record for %s", fp)
	}

	var errs []error

	if !rec.NotifiedThread {
		if err := d.send(ctx, fp, dedupe.SurfaceThread, n.Message.ChannelID, threadTS(n.Message), d.threadText(n)); err != nil {
			errs = append(errs, err)
		}
	}

	if d.cfg.NotificationChannel != "" && !rec.NotifiedChannel {
		if err := d.send(ctx, fp, dedupe.SurfaceChannel, d.cfg.NotificationChannel, "", d.channelText(n)); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify %s: %d surface(s) failed: %v", fp, len(errs), errs[0])
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, fp models.Fingerprint, surface dedupe.Surface, channelID, threadTS, text string) error {
	outcome := retry.Do(ctx, d.cfg.Retry, func() error {
		return d.messenger.PostMessage(ctx, channelID, threadTS, text)
	})
	if !outcome.Success {
		log.Warn().Err(outcome.LastError).
			Str("fingerprint", fp.String()).
			Str("surface", string(surface)).
			Msg("notification delivery failed")
		return fmt.Errorf("%s notification: %w", surface, outcome.LastError)
	}

	// Flag after the send. A crash between the two repeats the message on
	// re-dispatch; the flag bounds repeats, it cannot eliminate them.
	if err := d.store.SetNotified(ctx, fp, surface); err != nil {
		log.Error().Err(err).Str("fingerprint", fp.String()).
			Str("surface", string(surface)).
			Msg("notification sent but flag update failed")
	}
	log.Debug().Str("fingerprint", fp.String()).Str("surface", string(surface)).
		Msg("notification delivered")
	return nil
}

// threadTS picks the reply anchor: the thread the message lives in, or the
// message itself for top-level posts.
func threadTS(msg models.IncomingMessage) string {
	if msg.ThreadTS != "" {
		return msg.ThreadTS
	}
	return msg.MessageTS
}

func (d *Dispatcher) threadText(n Notification) string {
	return fmt.Sprintf(":ticket: Created Jira ticket: <%s|%s>", n.TicketURL, n.TicketKey)
}

const excerptLen = 200

func (d *Dispatcher) channelText(n Notification) string {
	excerpt := n.Message.Text
	ellipsis := ""
	if len(excerpt) > excerptLen {
		excerpt = excerpt[:excerptLen]
		ellipsis = "..."
	}

	channel := n.Context.ChannelName
	if channel == "" {
		channel = n.Message.ChannelID
	}

	var sb strings.Builder
	sb.WriteString(":white_check_mark: *Jira Ticket Created*\n\n")
	fmt.Fprintf(&sb, "*Ticket:* <%s|%s>\n", n.TicketURL, n.TicketKey)
	fmt.Fprintf(&sb, "*From:* <#%s> by <@%s>\n", channel, n.Message.AuthorID)
	fmt.Fprintf(&sb, "*Original Message:*\n```%s%s```", excerpt, ellipsis)
	return sb.String()
}
