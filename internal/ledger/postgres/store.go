// Package postgres provides the Postgres-backed ledger implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fiscalops/docharvest/internal/harvest"
)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements harvest.Ledger on Postgres. Every mutation is an upsert on
// the natural key, guarded so that successful entries are never rewritten.
type Store struct {
	pool pool
}

// NewStore connects a Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const requestColumns = `id, company_code, document_model, situation, initial_period, final_period,
	status, queued, link_download, file_name, file_path, screenshot_path,
	quantity_notes, warning_message, created_at, updated_at`

func scanRequest(row pgx.Row) (harvest.RetrievalRequest, error) {
	var (
		r     harvest.RetrievalRequest
		model string
		sit   string
	)
	err := row.Scan(
		&r.ID,
		&r.Key.CompanyCode,
		&model,
		&sit,
		&r.Key.Period.Initial,
		&r.Key.Period.Final,
		&r.Status,
		&r.Queued,
		&r.LinkDownload,
		&r.FileName,
		&r.FilePath,
		&r.ScreenshotPath,
		&r.QuantityNotes,
		&r.WarningMessage,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return harvest.RetrievalRequest{}, err
	}
	r.Key.Model = harvest.DocumentModel(model)
	r.Key.Situation = harvest.Situation(sit)
	r.Key.Period.Initial = r.Key.Period.Initial.UTC()
	r.Key.Period.Final = r.Key.Period.Final.UTC()
	return r, nil
}

func keyArgs(key harvest.RequestKey) []any {
	return []any{
		key.CompanyCode,
		string(key.Model),
		string(key.Situation),
		key.Period.Initial,
		key.Period.Final,
	}
}

// EnsureRequest inserts a pending entry for key if none exists, then returns
// the stored entry. A concurrent insert loses the race harmlessly.
func (s *Store) EnsureRequest(ctx context.Context, key harvest.RequestKey) (harvest.RetrievalRequest, error) {
	query := `
		INSERT INTO retrieval_requests (id, company_code, document_model, situation, initial_period, final_period)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_code, document_model, situation, initial_period, final_period) DO NOTHING;`
	args := append([]any{uuid.New()}, keyArgs(key)...)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return harvest.RetrievalRequest{}, fmt.Errorf("ensure request: %w", err)
	}
	return s.FindByKey(ctx, key)
}

// FindByKey returns the entry for key, or harvest.ErrNotFound.
func (s *Store) FindByKey(ctx context.Context, key harvest.RequestKey) (harvest.RetrievalRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM retrieval_requests
		WHERE company_code = $1 AND document_model = $2 AND situation = $3
		  AND initial_period = $4 AND final_period = $5;`, requestColumns)
	entry, err := scanRequest(s.pool.QueryRow(ctx, query, keyArgs(key)...))
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.RetrievalRequest{}, harvest.ErrNotFound
	}
	if err != nil {
		return harvest.RetrievalRequest{}, fmt.Errorf("find request: %w", err)
	}
	return entry, nil
}

// mutate ensures a row exists for key, then applies setClause to it, so a
// mutation against an absent key lands on a freshly created entry rather
// than a default one. The success guard keeps terminal downloads immutable.
func (s *Store) mutate(ctx context.Context, key harvest.RequestKey, setClause string, extra ...any) error {
	insert := `
		INSERT INTO retrieval_requests (id, company_code, document_model, situation, initial_period, final_period)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_code, document_model, situation, initial_period, final_period) DO NOTHING;`
	insertArgs := append([]any{uuid.New()}, keyArgs(key)...)
	if _, err := s.pool.Exec(ctx, insert, insertArgs...); err != nil {
		return fmt.Errorf("ensure request: %w", err)
	}

	update := fmt.Sprintf(`
		UPDATE retrieval_requests
		SET %s, updated_at = now()
		WHERE company_code = $1 AND document_model = $2 AND situation = $3
		  AND initial_period = $4 AND final_period = $5
		  AND status <> 'success';`, setClause)
	args := append(keyArgs(key), extra...)
	if _, err := s.pool.Exec(ctx, update, args...); err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return nil
}

// AdvanceToProcessing marks the start of a discovery attempt.
func (s *Store) AdvanceToProcessing(ctx context.Context, key harvest.RequestKey) error {
	return s.mutate(ctx, key, `status = 'processing'`)
}

// RecordWarning stores a benign terminal skip with optional evidence.
func (s *Store) RecordWarning(ctx context.Context, key harvest.RequestKey, message, screenshotPath string) error {
	return s.mutate(ctx, key,
		`status = 'warning', warning_message = $6,
		 screenshot_path = COALESCE(NULLIF($7, ''), retrieval_requests.screenshot_path)`,
		message, screenshotPath)
}

// RecordError stores a failed attempt with optional evidence.
func (s *Store) RecordError(ctx context.Context, key harvest.RequestKey, message, screenshotPath string) error {
	return s.mutate(ctx, key,
		`status = 'error', warning_message = $6,
		 screenshot_path = COALESCE(NULLIF($7, ''), retrieval_requests.screenshot_path)`,
		message, screenshotPath)
}

// RecordLinkFound stores a located download link without touching status.
func (s *Store) RecordLinkFound(ctx context.Context, key harvest.RequestKey, url, fileName string) error {
	return s.mutate(ctx, key, `queued = TRUE, link_download = $6, file_name = $7`, url, fileName)
}

// RecordDownloaded stores the fetched artifact and marks the entry successful.
func (s *Store) RecordDownloaded(ctx context.Context, key harvest.RequestKey, filePath, screenshotPath string) error {
	return s.mutate(ctx, key,
		`status = 'success', file_path = $6,
		 screenshot_path = COALESCE(NULLIF($7, ''), retrieval_requests.screenshot_path)`,
		filePath, screenshotPath)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]harvest.RetrievalRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []harvest.RetrievalRequest
	for rows.Next() {
		entry, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

// ListEligibleForDiscovery returns unqueued entries whose status is in
// statuses (pending only when the filter is empty).
func (s *Store) ListEligibleForDiscovery(ctx context.Context, statuses []harvest.Status) ([]harvest.RetrievalRequest, error) {
	if len(statuses) == 0 {
		statuses = []harvest.Status{harvest.StatusPending}
	}
	filter := make([]string, 0, len(statuses))
	for _, st := range statuses {
		filter = append(filter, string(st))
	}
	query := fmt.Sprintf(`
		SELECT %s FROM retrieval_requests
		WHERE queued = FALSE AND status = ANY($1)
		ORDER BY created_at;`, requestColumns)
	return s.list(ctx, query, filter)
}

// ListQueuedNotDownloaded returns queued entries not yet successful.
func (s *Store) ListQueuedNotDownloaded(ctx context.Context) ([]harvest.RetrievalRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM retrieval_requests
		WHERE queued = TRUE AND status <> 'success'
		ORDER BY created_at;`, requestColumns)
	return s.list(ctx, query)
}

// ListAll returns every entry, oldest first.
func (s *Store) ListAll(ctx context.Context) ([]harvest.RetrievalRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM retrieval_requests ORDER BY created_at;`, requestColumns)
	return s.list(ctx, query)
}

// Delete removes the entry for key, if present.
func (s *Store) Delete(ctx context.Context, key harvest.RequestKey) error {
	query := `
		DELETE FROM retrieval_requests
		WHERE company_code = $1 AND document_model = $2 AND situation = $3
		  AND initial_period = $4 AND final_period = $5;`
	if _, err := s.pool.Exec(ctx, query, keyArgs(key)...); err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return nil
}
