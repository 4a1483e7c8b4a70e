// Package server exposes the HTTP surface: the Slack Events API endpoint and
// a health check. The events handler verifies the request signature, answers
// fast, and hands the event to the pipeline for async processing.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/triagebot/pkg/models"
)

// signatureSkew is the maximum accepted age of a signed request. Older
// timestamps are rejected to blunt replay of captured requests.
const signatureSkew = 5 * time.Minute

// Submitter accepts events for async processing.
type Submitter interface {
	Submit(event models.RawEvent) bool
}

// Server is the HTTP front of the agent.
type Server struct {
	echo          *echo.Echo
	addr          string
	signingSecret string
	pipeline      Submitter
	now           func() time.Time
}

// New creates the server and registers its routes.
func New(addr, signingSecret string, pipeline Submitter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	s := &Server{
		echo:          e,
		addr:          addr,
		signingSecret: signingSecret,
		pipeline:      pipeline,
		now:           time.Now,
	}

	e.GET("/health", s.healthHandler)
	e.POST("/slack/events", s.eventsHandler)

	return s
}

// Start runs the server until an interrupt or termination signal, then shuts
// down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	log.Info().Str("addr", s.addr).Msg("server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// eventEnvelope is the Slack Events API request body. For message_changed
// events the current message rides in Event.Message.
type eventEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type     string `json:"type"`
		Subtype  string `json:"subtype"`
		Channel  string `json:"channel"`
		User     string `json:"user"`
		BotID    string `json:"bot_id"`
		Text     string `json:"text"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
		Message  *struct {
			User     string `json:"user"`
			BotID    string `json:"bot_id"`
			Text     string `json:"text"`
			TS       string `json:"ts"`
			ThreadTS string `json:"thread_ts"`
		} `json:"message"`
	} `json:"event"`
}

func (s *Server) eventsHandler(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	if err := s.verifySignature(c.Request(), body); err != nil {
		log.Warn().Err(err).Msg("rejected unsigned or stale events request")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
	}

	switch envelope.Type {
	case "url_verification":
		return c.JSON(http.StatusOK, map[string]string{"challenge": envelope.Challenge})
	case "event_callback":
		event := toRawEvent(envelope)
		if !s.pipeline.Submit(event) {
			// Non-2xx makes Slack redeliver once capacity returns; dedupe
			// absorbs any duplicate that slips through.
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "accepted", "processing": "async"})
	default:
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
}

// toRawEvent flattens the envelope. Edits carry the current message nested
// under event.message; the fingerprint must come from the edited message's
// own timestamp so an edit maps to the same logical message.
func toRawEvent(envelope eventEnvelope) models.RawEvent {
	ev := envelope.Event
	raw := models.RawEvent{
		Type:     ev.Type,
		Subtype:  ev.Subtype,
		Channel:  ev.Channel,
		User:     ev.User,
		BotID:    ev.BotID,
		Text:     ev.Text,
		TS:       ev.TS,
		ThreadTS: ev.ThreadTS,
	}
	if ev.Subtype == "message_changed" && ev.Message != nil {
		raw.User = ev.Message.User
		if ev.Message.BotID != "" {
			raw.BotID = ev.Message.BotID
		}
		raw.Text = ev.Message.Text
		raw.TS = ev.Message.TS
		raw.ThreadTS = ev.Message.ThreadTS
	}
	return raw
}

// verifySignature checks the v0 HMAC-SHA256 request signature.
func (s *Server) verifySignature(req *http.Request, body []byte) error {
	tsHeader := req.Header.Get("X-Slack-Request-Timestamp")
	signature := req.Header.Get("X-Slack-Signature")
	if tsHeader == "" || signature == "" {
		return fmt.Errorf("missing signature headers")
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", tsHeader)
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > signatureSkew || age < -signatureSkew {
		return fmt.Errorf("timestamp outside allowed skew")
	}

	mac := hmac.New(sha256.New, []byte(s.signingSecret))
	fmt.Fprintf(mac, "v0:%s:", tsHeader)
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
