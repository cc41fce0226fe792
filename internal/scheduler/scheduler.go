// Package scheduler wires the discovery, download, and certificate
// maintenance jobs onto their clocks.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/harvest"
	"github.com/fiscalops/docharvest/internal/period"
	"github.com/fiscalops/docharvest/internal/pipeline"
)

// DefaultDiscoverySpec fires discovery at 08:00, 12:00, and 16:00.
const DefaultDiscoverySpec = "0 8,12,16 * * *"

const (
	defaultDownloadInterval = 5 * time.Minute
	defaultOrganizeInterval = 30 * time.Minute
)

// Runner is the pipeline surface the scheduler drives.
type Runner interface {
	RunDiscovery(ctx context.Context, cfg pipeline.Config, periods []harvest.Period) error
	RunDownload(ctx context.Context, cfg pipeline.Config) error
}

// Organizer triggers housekeeping on the certificate provider.
type Organizer interface {
	Organize(ctx context.Context) error
}

// ReloadFunc resolves fresh pipeline and planner configuration for a
// discovery fire, so a long-running process observes allow-list and
// period changes between fires.
type ReloadFunc func() (pipeline.Config, period.Config, error)

// Config controls job timing and what each discovery fire processes.
type Config struct {
	// Instant schedules a single discovery fire one minute from now,
	// overriding CronSpec.
	Instant bool
	// CronSpec is a five-field cron expression for the discovery job.
	// Empty or invalid falls back to DefaultDiscoverySpec.
	CronSpec string

	DownloadInterval time.Duration
	OrganizeInterval time.Duration

	Period   period.Config
	Pipeline pipeline.Config

	// Reload, when set, is called at every discovery fire; the values it
	// returns replace Period and Pipeline for that fire. A reload failure
	// keeps the previous configuration.
	Reload ReloadFunc
}

// Scheduler owns the cron runner and the two polling loops.
type Scheduler struct {
	runner    Runner
	organizer Organizer
	clock     harvest.Clock
	logger    *zap.Logger
	cfg       Config
}

// New creates a Scheduler.
func New(runner Runner, organizer Organizer, clock harvest.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DownloadInterval <= 0 {
		cfg.DownloadInterval = defaultDownloadInterval
	}
	if cfg.OrganizeInterval <= 0 {
		cfg.OrganizeInterval = defaultOrganizeInterval
	}
	return &Scheduler{
		runner:    runner,
		organizer: organizer,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// ResolveSpec picks the discovery cron expression: an instant override wins,
// then a valid configured expression, then the default.
func ResolveSpec(cfg Config, now time.Time, logger *zap.Logger) string {
	if cfg.Instant {
		t := now.Add(time.Minute)
		return fmt.Sprintf("%d %d %d %d *", t.Minute(), t.Hour(), t.Day(), int(t.Month()))
	}
	if cfg.CronSpec != "" {
		if _, err := cron.ParseStandard(cfg.CronSpec); err == nil {
			return cfg.CronSpec
		}
		logger.Warn("Invalid cron expression, using default",
			zap.String("expression", cfg.CronSpec),
			zap.String("default", DefaultDiscoverySpec))
	}
	return DefaultDiscoverySpec
}

// Run starts all three jobs and blocks until the context finishes.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.RunDownloadJob(ctx)
	}()
	go func() {
		defer wg.Done()
		s.RunMaintenanceJob(ctx)
	}()

	err := s.RunDiscoveryJob(ctx)
	wg.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// RunDiscoveryJob drives discovery on its cron schedule and blocks until the
// context finishes. Every fire re-plans the periods and, through the Reload
// hook, re-reads the allow-list, so date arithmetic and filters track the
// calendar and configuration rather than process start.
func (s *Scheduler) RunDiscoveryJob(ctx context.Context) error {
	spec := ResolveSpec(s.cfg, s.clock.Now(), s.logger)

	c := cron.New(cron.WithLogger(cronLogger{s.logger}), cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))
	if _, err := c.AddFunc(spec, func() { s.fireDiscovery(ctx) }); err != nil {
		return fmt.Errorf("schedule discovery: %w", err)
	}
	s.logger.Info("Discovery scheduled", zap.String("cron", spec), zap.Bool("instant", s.cfg.Instant))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) fireDiscovery(ctx context.Context) {
	pipelineCfg, periodCfg := s.currentConfigs()

	periods := period.Plan(periodCfg, s.clock.Now())
	if len(periods) == 0 {
		s.logger.Warn("Discovery fired with no periods to process")
		return
	}
	if err := s.runner.RunDiscovery(ctx, pipelineCfg, periods); err != nil {
		s.logger.Error("Discovery run failed", zap.Error(err))
	}
}

// RunDownloadJob polls the queue on a fixed interval and blocks until the
// context finishes. The first poll runs immediately so a restart does not
// strand queued entries for an interval.
func (s *Scheduler) RunDownloadJob(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DownloadInterval)
	defer ticker.Stop()

	for {
		pipelineCfg, _ := s.currentConfigs()
		if err := s.runner.RunDownload(ctx, pipelineCfg); err != nil && ctx.Err() == nil {
			s.logger.Error("Download poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// currentConfigs resolves the pipeline and planner configuration for one
// fire or poll. Without a Reload hook, or when the reload fails, the
// configuration captured at construction stands.
func (s *Scheduler) currentConfigs() (pipeline.Config, period.Config) {
	if s.cfg.Reload == nil {
		return s.cfg.Pipeline, s.cfg.Period
	}
	pipelineCfg, periodCfg, err := s.cfg.Reload()
	if err != nil {
		s.logger.Warn("Config reload failed, keeping previous configuration", zap.Error(err))
		return s.cfg.Pipeline, s.cfg.Period
	}
	return pipelineCfg, periodCfg
}

// RunMaintenanceJob asks the certificate provider to reorganize its store on
// a fixed interval. It does not touch the identity gate.
func (s *Scheduler) RunMaintenanceJob(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.OrganizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.organizer.Organize(ctx); err != nil {
				s.logger.Error("Certificate organize failed", zap.Error(err))
			}
		}
	}
}

// cronLogger adapts zap to the cron logging interface.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
