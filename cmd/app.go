package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/chenapple/thesaurus-management/internal/analysis"
	"github.com/chenapple/thesaurus-management/internal/config"
	"github.com/chenapple/thesaurus-management/internal/llm"
	"github.com/chenapple/thesaurus-management/internal/metrics"
	"github.com/chenapple/thesaurus-management/internal/persistence"
	"github.com/chenapple/thesaurus-management/internal/service"
	"github.com/chenapple/thesaurus-management/internal/tools"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

// app holds the components shared by every command
type app struct {
	cfg     *config.Config
	store   *persistence.SQLiteStore
	runner  *service.Runner
	metrics *metrics.Recorder
	cron    *cron.Cron
}

// loadConfig reads .env, then the environment, then the runtime settings file
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var opts []config.Option
	settings, err := config.LoadRuntimeSettingsFile(config.RuntimeSettingsFilePath())
	switch {
	case err == nil:
		opts = append(opts, config.WithRuntimeSettings(settings))
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return nil, err
	}
	log.InitLogger(cfg.LogLevel())
	return cfg, nil
}

// newCoordinatorFactory builds coordinators for cfg overridden by runtime settings.
// Every coordinator shares one run guard so a swapped coordinator cannot overlap a running one.
func newCoordinatorFactory(cfg *config.Config, observer analysis.Observer, roles *analysis.RoleCatalog) service.CoordinatorFactory {
	guard := analysis.NewRunGuard()
	return func(settings config.RuntimeSettings) (*analysis.Coordinator, error) {
		next := *cfg
		config.WithRuntimeSettings(settings)(&next)

		provider, err := llm.NewProvider(next.LLM.ProviderConfig())
		if err != nil {
			return nil, err
		}

		opts := []analysis.Option{
			analysis.WithRunGuard(guard),
			analysis.WithModel(next.LLM.Model, next.LLM.MaxTokens),
			analysis.WithSampleSize(next.Analysis.SampleSize),
			analysis.WithCallDelay(next.Analysis.CallDelay),
			analysis.WithNotifyIntervals(next.Analysis.NotifyInterval, next.Analysis.ProgressInterval),
			analysis.WithMaxIterations(next.Agent.MaxIterations),
		}
		if observer != nil {
			opts = append(opts, analysis.WithObserver(observer))
		}
		if roles != nil {
			opts = append(opts, analysis.WithRoles(roles))
		}
		if next.Agent.WebSearchAPIKey != "" {
			opts = append(opts, analysis.WithTools(tools.NewWebSearchTool(next.Agent.WebSearchAPIKey, next.Agent.WebSearchURL)))
		}
		return analysis.NewCoordinator(provider, opts...)
	}
}

func newApp(cfg *config.Config) (*app, error) {
	recorder := metrics.NewRecorder()

	var roles *analysis.RoleCatalog
	if cfg.Analysis.RolesFile != "" {
		loaded, err := analysis.LoadRolesFile(cfg.Analysis.RolesFile)
		if err != nil {
			return nil, err
		}
		roles = loaded
		log.Info("Loaded role prompts from %s", cfg.Analysis.RolesFile)
	}

	factory := newCoordinatorFactory(cfg, recorder, roles)
	coord, err := factory(cfg.RuntimeSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	scheduler := cron.New()
	runner, err := service.NewRunner(coord, store,
		service.WithCron(scheduler),
		service.WithTargetACOS(cfg.Analysis.TargetACOS),
		service.WithCoordinatorFactory(factory),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	log.Info("Using %s model %s, database %s", cfg.LLM.Provider, cfg.LLM.Model, cfg.DBPath())
	return &app{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		metrics: recorder,
		cron:    scheduler,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
