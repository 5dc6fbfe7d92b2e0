package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fathomtel/callsight/internal/observability"
	"github.com/fathomtel/callsight/internal/server"
	"github.com/fathomtel/callsight/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the callsight HTTP API.

Endpoints:
  POST /api/v1/analyze                      route an analysis request
  GET  /api/v1/jobs                         list jobs
  GET  /api/v1/jobs/{id}                    job status
  GET  /api/v1/jobs/{id}/results            job results
  GET  /api/v1/calls                        list and search calls
  GET  /api/v1/calls/{id}/transcript        transcript (json|text)
  GET  /api/v1/calls/{id}/participants      participant roster`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// jobsDirChecker reports whether the job store directory is writable.
type jobsDirChecker struct {
	dir string
}

func (c jobsDirChecker) CheckHealth(context.Context) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("jobs dir: %w", err)
	}
	f, err := os.CreateTemp(c.dir, ".healthcheck.*")
	if err != nil {
		return fmt.Errorf("jobs dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := observability.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps := buildServices(cfg, logger)

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("jobs_dir", jobsDirChecker{dir: cfg.Jobs.Dir})

	srv := server.New(server.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		API:          handlers.NewAPI(deps.svc, logger),
		Health:       health,
		Version: handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		},
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}

	// Let in-flight background jobs reach a terminal state before exit.
	deps.registry.Wait()
	return nil
}
