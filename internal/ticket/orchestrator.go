// Package ticket turns a create verdict into at most one tracker issue per
// fingerprint. The dedupe store reservation is taken before any tracker call,
// so concurrent deliveries of the same message race on the store, not on the
// tracker API.
package ticket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/triagebot/internal/dedupe"
	"github.com/triagebot/internal/retry"
	"github.com/triagebot/pkg/models"
)

// Tracker is the issue-tracker surface the orchestrator needs.
type Tracker interface {
	CreateIssue(ctx context.Context, req models.TicketRequest) (string, error)
	TransitionIssue(ctx context.Context, issueKey, desiredStatus string) error
}

// Config configures ticket creation.
type Config struct {
	ProjectKey    string
	InitialStatus string // optional post-creation status transition
	Retry         retry.Config
}

// Request is one resolved create decision ready for the tracker.
type Request struct {
	Message     models.IncomingMessage
	Context     models.MessageContext
	IssueType   models.IssueType
	Priority    models.Priority
	Summary     string
	Description string
}

// Outcome reports what happened for a fingerprint.
type Outcome struct {
	Record    models.TicketRecord
	Created   bool // this call created the ticket
	Duplicate bool // an earlier delivery already holds the reservation
}

// Orchestrator owns the reserve, create, record sequence.
type Orchestrator struct {
	store   dedupe.Store
	tracker Tracker
	cfg     Config
	now     func() time.Time
}

// New creates an Orchestrator.
func New(store dedupe.Store, tracker Tracker, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:   store,
		tracker: tracker,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Ensure creates the ticket for req's fingerprint unless a reservation already
// exists. Redeliveries get the prior outcome back, whatever it was; a Failed
// record is a terminal answer for that fingerprint, not an invitation to retry.
func (o *Orchestrator) Ensure(ctx context.Context, req Request) (Outcome, error) {
	fp := req.Message.Fingerprint()

	rec, reserved, err := o.store.Reserve(ctx, fp)
	if err != nil {
		return Outcome{}, fmt.Errorf("reserve %s: %w", fp, err)
	}
	if !reserved {
		log.Info().Str("fingerprint", fp.String()).
			Str("status", string(rec.Status)).
			Str("ticket", rec.TicketKey).
			Msg("fingerprint already handled, skipping creation")
		return Outcome{Record: rec, Duplicate: true}, nil
	}

	ticketReq := models.TicketRequest{
		ProjectKey:  o.cfg.ProjectKey,
		IssueType:   req.IssueType,
		Priority:    req.Priority,
		Summary:     summaryFor(req),
		Description: descriptionFor(req, o.now()),
	}

	var key string
	outcome := retry.Do(ctx, o.cfg.Retry, func() error {
		k, err := o.tracker.CreateIssue(ctx, ticketReq)
		if err != nil {
			return err
		}
		key = k
		return nil
	})

	if !outcome.Success {
		reason := "create issue failed"
		if outcome.LastError != nil {
			reason = outcome.LastError.Error()
		}
		if err := o.store.MarkFailed(ctx, fp, reason); err != nil {
			log.Error().Err(err).Str("fingerprint", fp.String()).
				Msg("failed to record creation failure")
		}
		rec, _, _ := o.store.Get(ctx, fp)
		return Outcome{Record: rec}, fmt.Errorf("create ticket for %s: %w", fp, outcome.LastError)
	}

	if err := o.store.MarkCreated(ctx, fp, key); err != nil {
		// The ticket exists; a store failure here must not trigger a second
		// creation, so report success and surface the inconsistency in logs.
		log.Error().Err(err).Str("fingerprint", fp.String()).Str("ticket", key).
			Msg("ticket created but store update failed")
	}

	log.Info().Str("fingerprint", fp.String()).Str("ticket", key).
		Str("issue_type", string(req.IssueType)).
		Str("priority", string(req.Priority)).
		Msg("ticket created")

	o.applyInitialStatus(ctx, key)

	final, _, _ := o.store.Get(ctx, fp)
	return Outcome{Record: final, Created: true}, nil
}

// applyInitialStatus moves a fresh ticket to the configured status. Tracker
// workflows vary, so a missing transition is logged and ignored.
func (o *Orchestrator) applyInitialStatus(ctx context.Context, key string) {
	if o.cfg.InitialStatus == "" {
		return
	}
	if err := o.tracker.TransitionIssue(ctx, key, o.cfg.InitialStatus); err != nil {
		log.Warn().Err(err).Str("ticket", key).
			Str("status", o.cfg.InitialStatus).
			Msg("could not apply initial status")
	}
}

const maxSummaryLen = 100

func summaryFor(req Request) string {
	s := strings.TrimSpace(req.Summary)
	if s == "" {
		s = strings.TrimSpace(req.Message.Text)
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxSummaryLen {
		s = s[:maxSummaryLen-3] + "..."
	}
	return s
}

// descriptionFor renders the Jira-markup ticket body: reporter and channel
// context, the original message quoted, then the generated description.
func descriptionFor(req Request, now time.Time) string {
	reporter := req.Context.AuthorName
	if reporter == "" {
		reporter = req.Message.AuthorID
	}
	channel := req.Context.ChannelName
	if channel == "" {
		channel = req.Message.ChannelID
	}

	generated := strings.TrimSpace(req.Description)
	if generated == "" {
		generated = strings.TrimSpace(req.Message.Text)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Reported by:* %s\n", reporter)
	fmt.Fprintf(&sb, "*Slack Channel:* #%s\n", channel)
	if req.Context.Permalink != "" {
		fmt.Fprintf(&sb, "*Slack Link:* %s\n", req.Context.Permalink)
	}
	sb.WriteString("*Original Message:*\n{quote}\n")
	sb.WriteString(strings.TrimSpace(req.Message.Text))
	sb.WriteString("\n{quote}\n\n---\n\n")
	sb.WriteString("*AI-Generated Description:*\n")
	sb.WriteString(generated)
	sb.WriteString("\n\n---\n")
	fmt.Fprintf(&sb, "_This ticket was automatically created by triagebot on %s_\n",
		now.Format("2006-01-02 15:04:05"))
	return sb.String()
}
