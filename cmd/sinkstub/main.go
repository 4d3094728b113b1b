// Command sinkstub serves an in-memory stand-in for the platform metadata API
// for local runs and integration checks of metarecon push/pull.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"metarecon/internal/config"
	"metarecon/internal/profile"
	"metarecon/internal/sinkstub"
	"metarecon/internal/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sinkstub",
		Short: "In-memory metadata API stub",
	}
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the stub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			addr, _ := cmd.Flags().GetString("addr")
			return runServer(path, addr)
		},
	}
	cmd.Flags().String("config", "", "Config file (YAML)")
	cmd.Flags().String("addr", "", "Listen address (overrides stub.addr)")
	return cmd
}

func runServer(path, addr string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	prof, err := profile.Load(cfg.Profile)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Stub.Addr
	}

	srv := sinkstub.New(sinkstub.Options{
		Username: cfg.Sink.Username,
		Password: cfg.Sink.Password,
		ValidID:  prof.IDPolicy.Valid,
		Logger:   logger,
	})
	e := srv.Echo()

	go func() {
		logger.Info().Str("addr", addr).Msg("starting stub")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down stub")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info().Int("rebuilds", srv.Rebuilds()).Msg("stub stopped")
	return nil
}
