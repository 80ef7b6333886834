package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/obedparla/storechat/internal/catalog"
	"github.com/obedparla/storechat/internal/chat"
	"github.com/obedparla/storechat/internal/config"
	"github.com/obedparla/storechat/internal/datasource"
	"github.com/obedparla/storechat/internal/handoff"
	"github.com/obedparla/storechat/internal/logs"
	"github.com/obedparla/storechat/internal/search"
	"github.com/obedparla/storechat/internal/server"
	"github.com/obedparla/storechat/internal/telemetry"
	"github.com/obedparla/storechat/internal/tools"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracer("storechat", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	configPath := os.Getenv("STORECHAT_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := catalog.NewStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open catalog store: %v", err)
	}
	defer store.Close()

	logStore, err := logs.NewStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open conversation log: %v", err)
	}
	defer logStore.Close()

	sources, err := datasource.NewStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open data sources: %v", err)
	}
	defer sources.Close()

	index := search.New(cfg.Index.Dir, store, logger)

	var handoffStore tools.HandoffStore
	var notifier handoff.Notifier
	if cfg.Chat.HandoffEnabled {
		hs, err := handoff.NewStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to open handoff store: %v", err)
		}
		defer hs.Close()
		handoffStore = hs

		if mn := handoff.NewMailNotifier(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username,
			cfg.Mail.Password, cfg.Mail.From, cfg.Mail.Admin, logger); mn != nil {
			notifier = mn
		}
	}

	dispatcher := tools.New(store, index, handoffStore, notifier, sources, logger)

	transport, err := chat.NewTransportFromConfig(cfg)
	if err != nil && !errors.Is(err, chat.ErrNotConfigured) {
		log.Fatalf("Failed to configure chat transport: %v", err)
	}
	if transport == nil {
		logger.Warn("no completion backend configured; chat will report unavailable")
	} else if cfg.ProviderMode() {
		logger.Info("chat transport: provider relay", slog.String("url", cfg.Provider.URL))
	} else {
		logger.Info("chat transport: direct OpenAI", slog.String("model", cfg.OpenAI.Model))
	}

	faqs := make([]chat.FAQ, len(cfg.Chat.FAQs))
	for i, f := range cfg.Chat.FAQs {
		faqs[i] = chat.FAQ{Question: f.Question, Answer: f.Answer}
	}

	orchestrator := chat.NewOrchestrator(transport, dispatcher, chat.Options{
		Model: cfg.OpenAI.Model,
		Prompt: chat.PromptConfig{
			SiteName:        cfg.Chat.SiteName,
			Persona:         cfg.Chat.Persona,
			Language:        cfg.Chat.Language,
			HandoffEnabled:  dispatcher.HandoffEnabled(),
			CommerceEnabled: dispatcher.CommerceEnabled(),
			FAQs:            faqs,
		},
		MaxToolRounds: cfg.Chat.MaxToolRounds,
		TokenBudget:   cfg.Chat.TokenBudget,
	}, logger)

	handler := server.NewChatHandler(orchestrator, store, index, logStore, logger)

	srv := server.New(cfg.Server.Port, logger)
	handler.Routes(srv.Router)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
