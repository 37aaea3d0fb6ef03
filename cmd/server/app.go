package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shipitai/reviewbot/config"
	"github.com/shipitai/reviewbot/github"
	"github.com/shipitai/reviewbot/gitlab"
	"github.com/shipitai/reviewbot/llm"
	"github.com/shipitai/reviewbot/notify"
	"github.com/shipitai/reviewbot/review"
	"github.com/shipitai/reviewbot/storage"
	"github.com/shipitai/reviewbot/storage/postgres"
	"github.com/shipitai/reviewbot/storage/sqlite"
	"github.com/shipitai/reviewbot/vcs"
)

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*config.ServerConfig, error) {
	cfg, err := config.LoadServerConfig(os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{flags.port, &cfg.Port},
		{flags.databaseURL, &cfg.DatabaseURL},
		{flags.sqlitePath, &cfg.SQLitePath},
		{strings.ToLower(flags.logLevel), &cfg.LogLevel},
		{strings.ToLower(flags.logFormat), &cfg.LogFormat},
	}
	changed := false
	for _, o := range overrides {
		if o.flag != "" {
			*o.dst = o.flag
			changed = true
		}
	}
	if changed {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return cfg, nil
}

func newLogger(level, format string) *slog.Logger {
	cfg := config.ServerConfig{LogLevel: level}
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// openStore connects to PostgreSQL when a DSN is configured, otherwise to
// the SQLite file. Migrations are applied in both cases.
func openStore(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (storage.Storage, error) {
	if cfg.DatabaseURL != "" {
		pg, err := postgres.NewFromDSN(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("storage ready", "driver", "postgres")
		return pg, nil
	}

	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	logger.Info("storage ready", "driver", "sqlite", "path", cfg.SQLitePath)
	return store, nil
}

func runMigrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return store.Close()
}

func newProvider(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (llm.Provider, error) {
	pc := llm.ProviderConfig{Name: cfg.LLMProvider, Model: cfg.LLMModel}
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		pc.APIKey = cfg.AnthropicAPIKey
		validateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := llm.ValidateAPIKey(validateCtx, cfg.AnthropicAPIKey); err != nil {
			return nil, err
		}
		logger.Info("anthropic API key validated", "key_hint", llm.ExtractKeyHint(cfg.AnthropicAPIKey))
	case config.ProviderOpenAI:
		pc.APIKey = cfg.OpenAIAPIKey
		pc.BaseURL = cfg.OpenAIBaseURL
	}
	return llm.NewProvider(pc)
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	orchestrator := review.NewOrchestrator(
		llm.NewClient(provider, logger),
		store,
		config.NewLoader(logger),
		review.NewReferenceLoader(nil, logger),
		notify.NewFanout(logger, nil),
		review.Options{PushReviewEnabled: cfg.PushReviewEnabled, ForceReview: cfg.ForceReview},
		logger,
	)

	srv := &server{
		reviews:       orchestrator,
		reviewTimeout: cfg.ReviewTimeout,
		logger:        logger,
	}
	if cfg.GitHubEnabled() {
		factory := github.NewFactory(github.Credentials{
			Token:      cfg.GitHubToken,
			AppID:      cfg.GitHubAppID,
			PrivateKey: []byte(cfg.GitHubPrivateKey),
			APIURL:     cfg.GitHubAPIURL,
		}, logger)
		srv.githubClient = func(installationID int64) (vcs.Client, error) {
			client, err := factory.Client(installationID)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}
	if cfg.GitLabEnabled() {
		srv.gitlabClient = gitlab.NewClient(cfg.GitLabURL, cfg.GitLabToken, logger)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"port", cfg.Port,
			"github", cfg.GitHubEnabled(),
			"gitlab", cfg.GitLabEnabled(),
			"llm_provider", provider.Name(),
			"push_review", cfg.PushReviewEnabled,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	srv.wait(shutdownCtx)
	return nil
}
