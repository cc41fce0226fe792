// Package registry reads the externally-owned company table.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fiscalops/docharvest/internal/harvest"
)

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Config controls the registry connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Postgres implements harvest.CompanyRegistry over the companies table. The
// table is owned by the account system's sync process; this side never writes.
type Postgres struct {
	pool pool
}

// New connects a Postgres registry using the provided config.
func New(ctx context.Context, cfg Config) (*Postgres, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: p}, nil
}

// NewWithPool constructs a registry from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Postgres, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: p}, nil
}

// Close releases the underlying pool resources.
func (r *Postgres) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// ListCompanies returns every registered company, ordered by account-system code.
func (r *Postgres) ListCompanies(ctx context.Context) ([]harvest.Company, error) {
	query := `
		SELECT code, name, federal_registration, cnaes, status
		FROM companies
		ORDER BY code;`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var out []harvest.Company
	for rows.Next() {
		var (
			c      harvest.Company
			cnaes  string
			status string
		)
		if err := rows.Scan(&c.Code, &c.Name, &c.RegistrationID, &cnaes, &status); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		c.CNAEs = splitCNAEs(cnaes)
		c.Active = status == "A"
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return out, nil
}

// splitCNAEs parses the comma-separated activity-classification list the
// account system syncs verbatim.
func splitCNAEs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
