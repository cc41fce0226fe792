package harvest

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by ledger lookups when no entry exists for a key.
var ErrNotFound = errors.New("retrieval request not found")

// Ledger persists retrieval requests keyed by their natural composite key.
// All mutations are key-scoped upserts so repeated scheduling stays idempotent,
// and no mutation ever moves an entry out of StatusSuccess.
type Ledger interface {
	// EnsureRequest inserts a pending entry for key if none exists and returns
	// the stored entry either way. Existing progress is never overwritten.
	EnsureRequest(ctx context.Context, key RequestKey) (RetrievalRequest, error)
	// FindByKey returns the entry for key, or ErrNotFound.
	FindByKey(ctx context.Context, key RequestKey) (RetrievalRequest, error)
	// AdvanceToProcessing marks the start of a discovery attempt.
	AdvanceToProcessing(ctx context.Context, key RequestKey) error
	// RecordWarning stores a benign terminal skip with optional evidence.
	RecordWarning(ctx context.Context, key RequestKey, message, screenshotPath string) error
	// RecordError stores a failed attempt with optional evidence.
	RecordError(ctx context.Context, key RequestKey, message, screenshotPath string) error
	// RecordLinkFound stores a located download link and sets queued.
	RecordLinkFound(ctx context.Context, key RequestKey, url, fileName string) error
	// RecordDownloaded stores the fetched artifact and marks the entry successful.
	RecordDownloaded(ctx context.Context, key RequestKey, filePath, screenshotPath string) error
	// ListEligibleForDiscovery returns unqueued entries whose status is in
	// statuses. A nil or empty filter means pending only.
	ListEligibleForDiscovery(ctx context.Context, statuses []Status) ([]RetrievalRequest, error)
	// ListQueuedNotDownloaded returns queued entries not yet successful.
	ListQueuedNotDownloaded(ctx context.Context) ([]RetrievalRequest, error)
	// ListAll returns every entry, ordered by creation time.
	ListAll(ctx context.Context) ([]RetrievalRequest, error)
	// Delete removes the entry for key, if present.
	Delete(ctx context.Context, key RequestKey) error
}

// CompanyRegistry reads the externally-owned company table.
type CompanyRegistry interface {
	ListCompanies(ctx context.Context) ([]Company, error)
}

// AutomationSession runs one browser interaction against the portal on behalf
// of the identity currently mounted on the host. A non-nil error denotes an
// infrastructure failure outside the tagged outcome set; callers map it to
// DiscoveryUnknownError or to a retried download.
type AutomationSession interface {
	DiscoverLink(ctx context.Context, company Company, req RetrievalRequest) (DiscoveryResult, error)
	FetchFile(ctx context.Context, company Company, req RetrievalRequest) (DownloadResult, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
