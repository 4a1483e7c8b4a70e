package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/triagebot/internal/classify"
	"github.com/triagebot/internal/config"
	"github.com/triagebot/internal/dedupe"
	"github.com/triagebot/internal/intake"
	"github.com/triagebot/internal/jira"
	"github.com/triagebot/internal/logging"
	"github.com/triagebot/internal/notify"
	"github.com/triagebot/internal/pipeline"
	"github.com/triagebot/internal/retry"
	"github.com/triagebot/internal/server"
	"github.com/triagebot/internal/slack"
	"github.com/triagebot/internal/ticket"
)

// ServeCommand returns the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the triage agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address, overrides server.listen_addr",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	addr := cfg.Server.ListenAddr
	if c.String("addr") != "" {
		addr = c.String("addr")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	model, err := classify.NewModel(c.Context, classify.ModelOptions{
		Provider: classify.Provider(cfg.AI.Provider),
		APIKey:   cfg.AI.APIKey,
		BaseURL:  cfg.AI.BaseURL,
		Model:    cfg.AI.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to create classification model: %w", err)
	}
	gateway := classify.NewGateway(classify.NewCaller(model, cfg.AI.MaxTokens), classify.GatewayConfig{
		Concurrency:    cfg.Pipeline.ClassifyConcurrency,
		QueueSize:      cfg.Pipeline.ClassifyQueueSize,
		RequestTimeout: cfg.AI.RequestTimeout,
		Retry:          retry.LLMConfig(),
	})

	slackClient := slack.NewClient(cfg.Slack.BotToken)
	jiraClient := jira.NewClient(cfg.Jira.URL, cfg.Jira.Email, cfg.Jira.APIToken)

	creator := ticket.New(store, jiraClient, ticket.Config{
		ProjectKey:    cfg.Jira.ProjectKey,
		InitialStatus: cfg.Jira.InitialStatus,
		Retry:         retry.DefaultConfig(),
	})
	notifier := notify.New(store, slackClient, notify.Config{
		NotificationChannel: cfg.Slack.NotificationChannel,
		Retry:               retry.DefaultConfig(),
	})
	in := intake.New(cfg.Slack.BotUserID, cfg.Slack.MonitoredChannels, cfg.Pipeline.ReclassifyEdits)

	p := pipeline.New(pipeline.Config{
		Workers:             cfg.Pipeline.Workers,
		QueueSize:           cfg.Pipeline.QueueSize,
		RunTimeout:          cfg.Pipeline.RunTimeout,
		DetectionMode:       cfg.AI.DetectionMode,
		ConfidenceThreshold: cfg.AI.ConfidenceThreshold,
	}, in, gateway, creator, notifier, slackClient, jiraClient)
	p.Start()
	defer p.Stop()

	log.Info().
		Str("provider", cfg.AI.Provider).
		Str("detection_mode", cfg.AI.DetectionMode).
		Strs("channels", cfg.Slack.MonitoredChannels).
		Msg("triage agent starting")

	srv := server.New(addr, cfg.Slack.SigningSecret, p)
	return srv.Start()
}

func openStore(cfg *config.Config) (dedupe.Store, error) {
	switch cfg.Pipeline.Store {
	case "pebble":
		store, err := dedupe.OpenPebbleStore(cfg.Pipeline.StorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Pipeline.StorePath, err)
		}
		return store, nil
	default:
		return dedupe.NewMemoryStore(), nil
	}
}
