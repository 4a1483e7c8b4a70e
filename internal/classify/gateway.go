package classify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/triagebot/internal/retry"
	"github.com/triagebot/pkg/models"
)

// GatewayConfig bounds the gateway's use of the classification service.
type GatewayConfig struct {
	Concurrency    int           // simultaneous in-flight calls
	QueueSize      int           // waiters beyond Concurrency before shedding
	RequestTimeout time.Duration // per-classification deadline
	Retry          retry.Config
}

// DefaultGatewayConfig returns the gateway defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Concurrency:    2,
		QueueSize:      16,
		RequestTimeout: 30 * time.Second,
		Retry:          retry.LLMConfig(),
	}
}

// Gateway calls the classification service with bounded concurrency, a
// bounded wait queue, and transient-failure retries. Classification is a pure
// function of the message and context, so recomputing on retry is safe.
type Gateway struct {
	caller Caller
	cfg    GatewayConfig
	sem    chan struct{} // in-flight slots
	queue  chan struct{} // in-flight + queued slots; full means shed
}

// NewGateway creates a Gateway around a Caller.
func NewGateway(caller Caller, cfg GatewayConfig) *Gateway {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &Gateway{
		caller: caller,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.Concurrency),
		queue:  make(chan struct{}, cfg.Concurrency+cfg.QueueSize),
	}
}

// Classify produces a validated ClassificationResult for one message, or a
// typed *Error describing why it could not.
func (g *Gateway) Classify(ctx context.Context, msg models.IncomingMessage, mctx models.MessageContext, threshold float64) (*models.ClassificationResult, error) {
	// Admission: take a queue slot or shed the request. Backpressure beats
	// unbounded memory growth.
	select {
	case g.queue <- struct{}{}:
		defer func() { <-g.queue }()
	default:
		log.Warn().Str("fingerprint", msg.Fingerprint().String()).
			Msg("classification queue full, dropping request")
		return nil, &Error{Kind: KindOverloaded, Msg: "classification queue full"}
	}

	// Wait for an in-flight slot.
	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	case <-ctx.Done():
		return nil, &Error{Kind: KindCanceled, Msg: "canceled while queued", Err: ctx.Err()}
	}

	if g.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
	}

	prompt := buildPrompt(msg, mctx, threshold)

	var result *models.ClassificationResult
	var lastErr error

	outcome := retry.Do(ctx, g.cfg.Retry, func() error {
		raw, err := g.caller.Call(ctx, prompt)
		if err != nil {
			lastErr = err
			return err
		}
		parsed, err := parseResponse(raw)
		if err != nil {
			// Schema violations are permanent for this response; the
			// typed error is non-retryable so retry.Do stops here.
			lastErr = err
			return err
		}
		result = parsed
		lastErr = nil
		return nil
	})

	if outcome.Success {
		log.Debug().
			Str("fingerprint", msg.Fingerprint().String()).
			Bool("actionable", result.Actionable).
			Float64("confidence", result.Confidence).
			Str("rationale", result.Rationale).
			Msg("classification complete")
		return result, nil
	}

	if cerr, ok := lastErr.(*Error); ok {
		if cerr.Kind == KindValidation {
			log.Error().Str("fingerprint", msg.Fingerprint().String()).
				Str("raw_response", cerr.Raw).
				Msg("classifier response failed schema validation")
		}
		return nil, cerr
	}
	if ctx.Err() != nil {
		return nil, &Error{Kind: KindCanceled, Msg: "classification deadline exceeded", Err: ctx.Err()}
	}
	return nil, &Error{Kind: KindExhausted, Msg: "classification retries exhausted", Err: outcome.LastError}
}
