package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"metarecon/internal/app"
	"metarecon/internal/blob"
	"metarecon/internal/config"
	"metarecon/internal/document"
	"metarecon/internal/ledger"
	"metarecon/internal/profile"
	"metarecon/internal/sink"
	"metarecon/internal/telemetry"
)

// runtime holds what one command invocation opened.
type runtime struct {
	cfg     *config.Config
	svc     *app.Service
	runs    ledger.Store
	metrics *telemetry.PrometheusRecorder
	logger  zerolog.Logger
}

func openRuntime(cmd *cobra.Command) (*runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	logger = logger.With().Str("command", cmd.Name()).Logger()

	prof, err := profile.Load(cfg.Profile)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}

	ctx := cmd.Context()
	blobs, err := blob.Open(ctx, cfg.BlobConfig())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	runs, err := ledger.Open(ctx, cfg.LedgerConfig())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	var client *sink.Client
	if cfg.Sink.URL != "" {
		client, err = sink.New(cfg.SinkConfig(), logger.With().Str("component", "sink").Logger())
		if err != nil {
			_ = runs.Close()
			return nil, withCode(exitUsage, err)
		}
	}

	rt := &runtime{cfg: cfg, runs: runs, logger: logger}
	var metrics telemetry.MetricsRecorder = telemetry.NoopRecorder{}
	if cfg.Metrics.File != "" {
		rt.metrics = telemetry.NewPrometheusRecorder()
		metrics = rt.metrics
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	rt.svc, err = app.New(app.Deps{
		Documents: document.NewStore(blobs, logger.With().Str("component", "documents").Logger()),
		Profile:   prof,
		Ledger:    runs,
		Sink:      client,
		Metrics:   metrics,
		Logger:    logger,
		DryRun:    dryRun,
	})
	if err != nil {
		_ = runs.Close()
		return nil, err
	}
	logger.Debug().
		Str("storage", cfg.Storage.Driver).
		Str("ledger", string(runs.Driver())).
		Bool("sink", client != nil).
		Bool("dry_run", dryRun).
		Msg("runtime ready")
	return rt, nil
}

// Close flushes metrics and closes the ledger.
func (rt *runtime) Close() error {
	var errs []error
	if rt.metrics != nil {
		if err := rt.metrics.WriteFile(rt.cfg.Metrics.File); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := rt.runs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}
	return errors.Join(errs...)
}

// withRuntime opens the runtime, runs fn and closes it again.
func withRuntime(cmd *cobra.Command, fn func(rt *runtime) error) (err error) {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			rt.logger.Error().Err(cerr).Msg("shutdown")
			if err == nil {
				err = cerr
			}
		}
	}()
	return fn(rt)
}
