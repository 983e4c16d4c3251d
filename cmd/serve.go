package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/chenapple/thesaurus-management/internal/config"
	"github.com/chenapple/thesaurus-management/internal/httpapi"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

type scheduler interface {
	Schedule(ctx context.Context, cronExpr, termsFile string) error
	SchedulePrune(ctx context.Context, retention time.Duration) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			settings, err := config.NewRuntimeSettingsStore(config.RuntimeSettingsFilePath(), cfg.RuntimeSettings())
			if err != nil {
				return err
			}
			srv := httpapi.NewServer(a.runner,
				httpapi.WithRuntimeSettingsStore(settings),
				httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
					return a.runner.ApplyRuntimeSettings(ctx, next)
				}),
				httpapi.WithMetricsHandler(a.metrics.Handler()),
				httpapi.WithTermsDir(a.cfg.System.DataDir),
				httpapi.WithBaseContext(ctx),
			)
			return runWithComponents(ctx, cfg, a.runner, a.cron, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return cmd
}

// runWithComponents schedules the cron jobs and serves HTTP until ctx is done
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, engine cronEngine, srv httpServer) error {
	if cfg.Schedule.TermsFile != "" {
		if err := sched.Schedule(ctx, cfg.Schedule.CronExpr, cfg.Schedule.TermsFile); err != nil {
			return err
		}
	} else {
		log.Info("TERMS_FILE is not set, scheduled analysis disabled")
	}
	if err := sched.SchedulePrune(ctx, cfg.Schedule.Retention); err != nil {
		return err
	}

	engine.Start()
	defer engine.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
