// Application wiring shared by every CLI command.
//
// Information Hiding:
// - Provider, masker, storage and pipeline construction hidden
// - Fallback to a no-op assessor when no model key is configured

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/richinex/draftguard/config"
	"github.com/richinex/draftguard/controller"
	"github.com/richinex/draftguard/internal/logging"
	"github.com/richinex/draftguard/llm"
	"github.com/richinex/draftguard/masking"
	"github.com/richinex/draftguard/pipeline"
	"github.com/richinex/draftguard/prompt"
	"github.com/richinex/draftguard/storage"
)

// Options holds CLI execution options.
type Options struct {
	Provider string // overrides LLM_PROVIDER
	DBPath   string // overrides DB_PATH
	Verbose  bool
}

// Store is the persistence an App needs.
type Store interface {
	storage.ConversationStorage
	storage.AssessmentLog
}

// App is a fully wired assessment stack.
type App struct {
	Settings config.Settings
	Logger   *slog.Logger
	Masker   masking.Masker
	Assessor controller.Assessor
	Store    Store

	closers []io.Closer
}

// Build wires an App from settings and options. Call Close when done.
func Build(ctx context.Context, opts Options) (*App, error) {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		settings.Storage.DBPath = opts.DBPath
	}

	level := settings.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	return buildWith(ctx, settings, logging.New(os.Stderr, level))
}

func buildWith(_ context.Context, settings config.Settings, logger *slog.Logger) (*App, error) {
	app := &App{Settings: settings, Logger: logger}

	app.Masker = masking.New(masking.Config{
		Mode:    masking.Mode(settings.Masking.Mode),
		URL:     settings.Masking.URL,
		APIKey:  settings.Masking.APIKey,
		Timeout: settings.Masking.Timeout,
		Terms:   settings.Masking.Terms,
	})
	logger.Debug("masking backend selected", "backend", masking.Name(app.Masker))

	if settings.Storage.DBPath == "" {
		app.Store = storage.NewInMemoryStorage()
	} else {
		db, err := storage.OpenSqlite(settings.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		app.Store = db
		app.closers = append(app.closers, db)
	}

	for _, name := range prompt.BlankOverrides(settings.Pipeline.TemplatesDir) {
		logger.Warn("template file is blank, using built-in default",
			"dir", settings.Pipeline.TemplatesDir, "template", name)
	}
	templates := prompt.LoadSet(settings.Pipeline.TemplatesDir)
	if err := templates.Validate(); err != nil {
		app.Close()
		return nil, err
	}

	provider, err := createProvider(settings.LLM)
	if err != nil {
		app.Close()
		return nil, err
	}
	if provider == nil {
		logger.Warn("no language model configured, assessments are disabled",
			"provider", settings.LLM.Provider)
		app.Assessor = controller.NoopAssessor{}
		return app, nil
	}

	app.Assessor = pipeline.New(app.Masker, llm.NewClient(provider), templates).
		WithHistoryLimit(settings.Pipeline.HistoryLimit).
		WithMaxTokens(settings.Masking.MaxTokens).
		WithStageTimeout(settings.Pipeline.StageTimeout).
		WithRecorder(app.Store).
		WithLogger(logger)
	return app, nil
}

// Close releases the database, if any.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

// AssessmentsEnabled reports whether a language model is configured.
func (a *App) AssessmentsEnabled() bool {
	_, noop := a.Assessor.(controller.NoopAssessor)
	return !noop
}

// createProvider returns nil without error when the provider has no API key.
func createProvider(cfg config.LLMConfig) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, nil
	}

	return providerType.
		Model(cfg.Model).
		MaxTokens(cfg.MaxTokens).
		Temperature(float32(cfg.Temperature)).
		APIKey(cfg.APIKey)
}
