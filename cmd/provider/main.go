package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/obedparla/storechat/internal/api/openai"
	"github.com/obedparla/storechat/internal/config"
	"github.com/obedparla/storechat/internal/relay"
	"github.com/obedparla/storechat/internal/server"
	"github.com/obedparla/storechat/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracer("storechat-provider", logger)
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

	var client *openai.Client
	if cfg.OpenAI.APIKey != "" {
		var opts []openai.ClientOption
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		client = openai.NewClient(cfg.OpenAI.APIKey, opts...)
	} else {
		logger.Warn("no upstream API key configured; relay requests will fail")
	}

	if len(cfg.Relay.SiteKeyHashes) == 0 {
		logger.Warn("no site key hashes configured; all relay requests will be rejected")
	}

	auth := relay.NewAuthenticator(cfg.Relay.SiteKeyHashes)
	handler := relay.NewHandler(client, cfg.OpenAI.Model, logger)

	srv := server.New(cfg.Server.Port, logger)
	handler.Routes(srv.Router, auth)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
