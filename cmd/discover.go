package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/api"
	"github.com/fiscalops/docharvest/internal/app"
	"github.com/fiscalops/docharvest/internal/config"
	"github.com/fiscalops/docharvest/internal/period"
	"github.com/fiscalops/docharvest/internal/pipeline"
	"github.com/fiscalops/docharvest/internal/scheduler"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Runs the discovery scheduler and the status API",
		Long: `Schedules the discovery job on its cron expression. Every fire
reloads the company registry, re-reads the allow-list, re-plans the
retrieval periods, and walks every eligible combination through the
portal search flow. Certificate store maintenance runs alongside on its
own interval.`,
		RunE: runDiscoverCommand,
	}
}

func runDiscoverCommand(cmd *cobra.Command, _ []string) error {
	application, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := application.Logger()
	sched := newHarvestScheduler(application)

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	srv := startStatusAPI(application, logger, stop)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.RunMaintenanceJob(ctx)
	}()

	err = sched.RunDiscoveryJob(ctx)
	wg.Wait()
	stopStatusAPI(srv, logger)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run discovery scheduler: %w", err)
	}
	logger.Info("Discovery command finished")
	return nil
}

// newHarvestScheduler builds the job scheduler with a reload hook so every
// discovery fire and download poll resolves the current configuration.
func newHarvestScheduler(application *app.App) *scheduler.Scheduler {
	schedCfg := application.Config().SchedulerConfig()
	schedCfg.Reload = reloadHarvestConfig
	return scheduler.New(
		application.Pipeline(),
		application.Certificates(),
		application.Clock(),
		schedCfg,
		application.Logger().Named("scheduler"),
	)
}

// reloadHarvestConfig re-reads the configuration so long-running jobs observe
// allow-list and planner changes, not the values the process started with.
func reloadHarvestConfig() (pipeline.Config, period.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return pipeline.Config{}, period.Config{}, err
	}
	return cfg.PipelineConfig(), cfg.PeriodConfig(), nil
}

// startStatusAPI serves the status API in the background. A listener failure
// cancels the jobs through stop.
func startStatusAPI(application *app.App, logger *zap.Logger, stop context.CancelFunc) *http.Server {
	apiServer := api.NewServer(application.Ledger(), application.Readiness, logger.Named("api"))
	port := application.Config().Server.Port
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Status API started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status API failed", zap.Error(err))
			stop()
		}
	}()
	return srv
}

func stopStatusAPI(srv *http.Server, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Status API shutdown error", zap.Error(err))
	}
}
