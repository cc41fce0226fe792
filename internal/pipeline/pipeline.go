// Package pipeline orchestrates document retrieval across the
// company x model x situation x period cross-product.
package pipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/certclient"
	"github.com/fiscalops/docharvest/internal/harvest"
	"github.com/fiscalops/docharvest/internal/metrics"
)

// IdentityGate serializes automation sessions behind the host identity.
type IdentityGate interface {
	WithIdentity(ctx context.Context, registrationID string, fn func(ctx context.Context) error) error
}

// Config controls one pipeline run. AllowList restricts processing to the
// listed account-system codes when non-empty. EligibleStatuses widens the
// discovery filter beyond pending entries.
type Config struct {
	AllowList        []string
	EligibleStatuses []harvest.Status
}

func (c Config) allowed(code int64) bool {
	if len(c.AllowList) == 0 {
		return true
	}
	want := strconv.FormatInt(code, 10)
	for _, candidate := range c.AllowList {
		if candidate == want {
			return true
		}
	}
	return false
}

func (c Config) eligible(status harvest.Status) bool {
	statuses := c.EligibleStatuses
	if len(statuses) == 0 {
		statuses = []harvest.Status{harvest.StatusPending}
	}
	for _, st := range statuses {
		if st == status {
			return true
		}
	}
	return false
}

// Pipeline advances ledger entries through discovery and download. Work is
// strictly sequential: the gate admits one automation session at a time.
type Pipeline struct {
	ledger   harvest.Ledger
	registry harvest.CompanyRegistry
	gate     IdentityGate
	session  harvest.AutomationSession
	logger   *zap.Logger
}

// New constructs a Pipeline.
func New(
	ledger harvest.Ledger,
	registry harvest.CompanyRegistry,
	gate IdentityGate,
	session harvest.AutomationSession,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		ledger:   ledger,
		registry: registry,
		gate:     gate,
		session:  session,
		logger:   logger,
	}
}

// RunDiscovery drives the discovery phase across every combination for the
// given windows. A failing combination is recorded on the ledger and never
// aborts the remaining batch.
func (p *Pipeline) RunDiscovery(ctx context.Context, cfg Config, periods []harvest.Period) error {
	metrics.DiscoveryRunStarted()

	companies, err := p.registry.ListCompanies(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("Starting discovery run",
		zap.Int("companies", len(companies)),
		zap.Int("periods", len(periods)))

	for _, company := range companies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !cfg.allowed(company.Code) {
			p.logger.Debug("Company not in allow-list; skipping",
				zap.Int64("code", company.Code), zap.String("name", company.Name))
			metrics.CombinationSkipped()
			continue
		}
		p.ensureCompanyRequests(ctx, company, periods)
		p.discoverCompany(ctx, cfg, company, periods)
	}

	p.logger.Info("Discovery run finished")
	return nil
}

// ensureCompanyRequests creates a pending ledger entry for every combination
// that has none yet. Existing entries keep their progress untouched.
func (p *Pipeline) ensureCompanyRequests(ctx context.Context, company harvest.Company, periods []harvest.Period) {
	for _, key := range combinations(company, periods) {
		if _, err := p.ledger.EnsureRequest(ctx, key); err != nil {
			p.logger.Error("Failed to ensure ledger entry",
				zap.String("key", key.String()), zap.Error(err))
		}
	}
}

func (p *Pipeline) discoverCompany(ctx context.Context, cfg Config, company harvest.Company, periods []harvest.Period) {
	for _, key := range combinations(company, periods) {
		if err := ctx.Err(); err != nil {
			return
		}
		p.discoverOne(ctx, cfg, company, key)
	}
}

// discoverOne runs a single combination. Every failure mode ends in a ledger
// write, not an escaping error.
func (p *Pipeline) discoverOne(ctx context.Context, cfg Config, company harvest.Company, key harvest.RequestKey) {
	entry, err := p.ledger.FindByKey(ctx, key)
	if err != nil {
		if !errors.Is(err, harvest.ErrNotFound) {
			p.logger.Error("Ledger lookup failed", zap.String("key", key.String()), zap.Error(err))
			return
		}
		if entry, err = p.ledger.EnsureRequest(ctx, key); err != nil {
			p.logger.Error("Failed to ensure ledger entry", zap.String("key", key.String()), zap.Error(err))
			return
		}
	}

	if entry.Queued || !cfg.eligible(entry.Status) {
		metrics.CombinationSkipped()
		return
	}

	if company.RegistrationID == "" {
		p.logger.Error("Company has no federal registration id",
			zap.Int64("code", company.Code), zap.String("name", company.Name))
		p.recordError(ctx, key, "company has no federal registration id", "")
		return
	}

	p.logger.Info("Processing combination",
		zap.String("company", company.Name),
		zap.String("key", key.String()))

	if err := p.ledger.AdvanceToProcessing(ctx, key); err != nil {
		p.logger.Error("Failed to mark entry processing", zap.String("key", key.String()), zap.Error(err))
		return
	}

	start := time.Now()
	err = p.gate.WithIdentity(ctx, company.RegistrationID, func(ctx context.Context) error {
		result, err := p.session.DiscoverLink(ctx, company, entry)
		if err != nil {
			return err
		}
		p.applyDiscovery(ctx, key, result)
		return nil
	})
	metrics.ObserveSessionDuration("discovery", time.Since(start))

	switch {
	case err == nil:
	case errors.Is(err, certclient.ErrIdentityUnavailable):
		metrics.ObserveDiscoveryOutcome("identity_unavailable")
		p.recordError(ctx, key, "certificate not found for registration id "+company.RegistrationID, "")
	default:
		metrics.ObserveDiscoveryOutcome(string(harvest.DiscoveryUnknownError))
		p.recordError(ctx, key, err.Error(), "")
	}
}

// applyDiscovery maps a tagged session outcome onto the ledger.
func (p *Pipeline) applyDiscovery(ctx context.Context, key harvest.RequestKey, result harvest.DiscoveryResult) {
	metrics.ObserveDiscoveryOutcome(string(result.Kind))

	switch result.Kind {
	case harvest.DiscoveryLinkFound:
		if err := p.ledger.RecordLinkFound(ctx, key, result.LinkURL, result.FileName); err != nil {
			p.logger.Error("Failed to record download link", zap.String("key", key.String()), zap.Error(err))
		}
	case harvest.DiscoveryNoDataForRegistration, harvest.DiscoveryNoResults:
		if err := p.ledger.RecordWarning(ctx, key, result.Message, result.ScreenshotPath); err != nil {
			p.logger.Error("Failed to record warning", zap.String("key", key.String()), zap.Error(err))
		}
	case harvest.DiscoveryCaptchaFailure, harvest.DiscoverySearchTimeout, harvest.DiscoveryUnknownError:
		p.recordError(ctx, key, result.Message, result.ScreenshotPath)
	default:
		p.recordError(ctx, key, "unrecognized discovery outcome "+string(result.Kind), result.ScreenshotPath)
	}
}

// RunDownload processes every queued, not-yet-downloaded entry once. Failed
// fetches leave the entry untouched for the next poll.
func (p *Pipeline) RunDownload(ctx context.Context, cfg Config) error {
	entries, err := p.ledger.ListQueuedNotDownloaded(ctx)
	if err != nil {
		return err
	}
	metrics.SetQueuedEntries(len(entries))
	if len(entries) == 0 {
		p.logger.Debug("No queued entries to download")
		return nil
	}

	companies, err := p.registry.ListCompanies(ctx)
	if err != nil {
		return err
	}
	byCode := make(map[int64]harvest.Company, len(companies))
	for _, c := range companies {
		byCode[c.Code] = c
	}

	p.logger.Info("Starting download poll", zap.Int("queued", len(entries)))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !cfg.allowed(entry.Key.CompanyCode) {
			metrics.CombinationSkipped()
			continue
		}
		company, ok := byCode[entry.Key.CompanyCode]
		if !ok {
			p.logger.Warn("Queued entry references unknown company",
				zap.String("key", entry.Key.String()))
			continue
		}
		p.downloadOne(ctx, company, entry)
	}
	return nil
}

func (p *Pipeline) downloadOne(ctx context.Context, company harvest.Company, entry harvest.RetrievalRequest) {
	p.logger.Info("Fetching file",
		zap.String("company", company.Name),
		zap.String("key", entry.Key.String()),
		zap.String("file", entry.FileName))

	start := time.Now()
	err := p.gate.WithIdentity(ctx, company.RegistrationID, func(ctx context.Context) error {
		result, err := p.session.FetchFile(ctx, company, entry)
		if err != nil {
			return err
		}
		p.applyDownload(ctx, entry.Key, result)
		return nil
	})
	metrics.ObserveSessionDuration("download", time.Since(start))

	if err != nil {
		// Entry stays queued; the next poll retries.
		metrics.ObserveDownloadOutcome("transient_error")
		p.logger.Error("Download attempt failed; will retry",
			zap.String("key", entry.Key.String()), zap.Error(err))
	}
}

func (p *Pipeline) applyDownload(ctx context.Context, key harvest.RequestKey, result harvest.DownloadResult) {
	metrics.ObserveDownloadOutcome(string(result.Kind))

	switch result.Kind {
	case harvest.DownloadFetched:
		if err := p.ledger.RecordDownloaded(ctx, key, result.FilePath, result.ScreenshotPath); err != nil {
			p.logger.Error("Failed to record download", zap.String("key", key.String()), zap.Error(err))
		}
	case harvest.DownloadLinkUnavailable, harvest.DownloadFileNotFound:
		p.logger.Warn("File not retrievable this poll",
			zap.String("key", key.String()),
			zap.String("kind", string(result.Kind)),
			zap.String("message", result.Message))
	default:
		p.logger.Warn("Unrecognized download outcome",
			zap.String("key", key.String()), zap.String("kind", string(result.Kind)))
	}
}

func (p *Pipeline) recordError(ctx context.Context, key harvest.RequestKey, message, screenshotPath string) {
	if err := p.ledger.RecordError(ctx, key, message, screenshotPath); err != nil {
		p.logger.Error("Failed to record error", zap.String("key", key.String()), zap.Error(err))
	}
}

// combinations enumerates the model x situation x period cross-product for
// one company, in fixed processing order.
func combinations(company harvest.Company, periods []harvest.Period) []harvest.RequestKey {
	out := make([]harvest.RequestKey, 0, len(harvest.Models())*len(harvest.Situations())*len(periods))
	for _, model := range harvest.Models() {
		for _, situation := range harvest.Situations() {
			for _, period := range periods {
				out = append(out, harvest.RequestKey{
					CompanyCode: company.Code,
					Model:       model,
					Situation:   situation,
					Period:      period,
				})
			}
		}
	}
	return out
}
