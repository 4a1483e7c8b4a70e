// Package pipeline runs the end-to-end triage flow: normalize an event, ask
// the classifier, apply the decision policy, create the ticket, announce it.
// Events are processed by a fixed worker pool fed from a bounded queue; one
// event's failure never touches another event or a worker.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/triagebot/internal/intake"
	"github.com/triagebot/internal/notify"
	"github.com/triagebot/internal/policy"
	"github.com/triagebot/internal/ticket"
	"github.com/triagebot/pkg/models"
)

// Classifier decides whether one message is actionable.
type Classifier interface {
	Classify(ctx context.Context, msg models.IncomingMessage, mctx models.MessageContext, threshold float64) (*models.ClassificationResult, error)
}

// Creator turns a create verdict into at most one ticket.
type Creator interface {
	Ensure(ctx context.Context, req ticket.Request) (ticket.Outcome, error)
}

// Notifier announces a created ticket.
type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notification) error
}

// Chat resolves display names for prompt and notification context. Lookups
// are best effort; raw IDs are acceptable substitutes.
type Chat interface {
	UserInfo(ctx context.Context, userID string) (string, error)
	ChannelName(ctx context.Context, channelID string) (string, error)
	Permalink(ctx context.Context, channelID, messageTS string) (string, error)
	ThreadRootText(ctx context.Context, channelID, threadTS string) (string, error)
}

// URLer renders the human-facing link for a ticket key.
type URLer interface {
	BrowseURL(ticketKey string) string
}

// Config bounds the pipeline.
type Config struct {
	Workers             int
	QueueSize           int
	RunTimeout          time.Duration // end-to-end deadline per event
	DetectionMode       string
	ConfidenceThreshold float64
}

// Pipeline is the triage worker pool.
type Pipeline struct {
	cfg        Config
	intake     *intake.Intake
	classifier Classifier
	creator    Creator
	notifier   Notifier
	chat       Chat
	urler      URLer

	queue chan models.RawEvent
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Pipeline. Start must be called before Submit delivers
// anything.
func New(cfg Config, in *intake.Intake, classifier Classifier, creator Creator, notifier Notifier, chat Chat, urler URLer) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Pipeline{
		cfg:        cfg,
		intake:     in,
		classifier: classifier,
		creator:    creator,
		notifier:   notifier,
		chat:       chat,
		urler:      urler,
		queue:      make(chan models.RawEvent, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when Stop is called and the
// queue drains.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
		log.Info().Int("workers", p.cfg.Workers).Int("queue_size", p.cfg.QueueSize).
			Msg("pipeline started")
	})
}

// Stop closes intake and waits for in-flight events to finish.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
	log.Info().Msg("pipeline stopped")
}

// Submit enqueues one event. Returns false when the queue is full; the event
// is dropped rather than blocking the caller, which is typically a webhook
// handler that must answer quickly.
func (p *Pipeline) Submit(event models.RawEvent) bool {
	select {
	case p.queue <- event:
		return true
	default:
		log.Warn().Str("channel", event.Channel).Str("ts", event.TS).
			Msg("pipeline queue full, dropping event")
		return false
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for event := range p.queue {
		p.runOne(event)
	}
}

// runOne processes a single event under its own deadline. Panics are confined
// to the event so a poisoned message cannot take a worker down.
func (p *Pipeline) runOne(event models.RawEvent) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).
		Str("channel", event.Channel).Str("ts", event.TS).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("event processing panicked")
		}
	}()

	ctx := context.Background()
	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	p.process(ctx, logger, event)
}

func (p *Pipeline) process(ctx context.Context, logger zerolog.Logger, event models.RawEvent) {
	verdict := p.intake.Normalize(event)
	if verdict.Message == nil {
		logger.Debug().Str("drop_reason", string(verdict.Dropped)).Msg("event filtered at intake")
		return
	}
	msg := *verdict.Message

	mctx := p.enrich(ctx, msg)

	result, err := p.classifier.Classify(ctx, msg, mctx, p.cfg.ConfidenceThreshold)
	if err != nil {
		logger.Warn().Err(err).Msg("classification unavailable, skipping message")
		return
	}

	decision := policy.Decide(result, p.cfg.ConfidenceThreshold)
	logger.Info().Bool("actionable", result.Actionable).
		Float64("confidence", result.Confidence).
		Str("verdict", decision.String()).
		Msg("message classified")
	if !decision.Create {
		return
	}

	outcome, err := p.creator.Ensure(ctx, ticket.Request{
		Message:     msg,
		Context:     mctx,
		IssueType:   decision.IssueType,
		Priority:    decision.Priority,
		Summary:     result.Summary,
		Description: result.Description,
	})
	if err != nil {
		logger.Error().Err(err).Msg("ticket creation failed")
		return
	}
	if outcome.Record.Status != models.TicketCreated {
		return
	}

	// Redeliveries land here too, completing any notification surface the
	// earlier run missed.
	if err := p.notifier.Dispatch(ctx, notify.Notification{
		Message:   msg,
		Context:   mctx,
		TicketKey: outcome.Record.TicketKey,
		TicketURL: p.urler.BrowseURL(outcome.Record.TicketKey),
	}); err != nil {
		logger.Warn().Err(err).Str("ticket", outcome.Record.TicketKey).
			Msg("notification incomplete")
	}
}

// enrich resolves display names for the classifier prompt and notifications.
// Failures fall back to raw IDs.
func (p *Pipeline) enrich(ctx context.Context, msg models.IncomingMessage) models.MessageContext {
	mctx := models.MessageContext{DetectionMode: p.cfg.DetectionMode}

	if name, err := p.chat.ChannelName(ctx, msg.ChannelID); err == nil && name != "" {
		mctx.ChannelName = name
	}
	if name, err := p.chat.UserInfo(ctx, msg.AuthorID); err == nil && name != "" {
		mctx.AuthorName = name
	}
	if link, err := p.chat.Permalink(ctx, msg.ChannelID, msg.MessageTS); err == nil {
		mctx.Permalink = link
	}
	if msg.ThreadTS != "" && msg.ThreadTS != msg.MessageTS {
		if text, err := p.chat.ThreadRootText(ctx, msg.ChannelID, msg.ThreadTS); err == nil {
			mctx.ThreadParent = text
		}
	}
	return mctx
}
