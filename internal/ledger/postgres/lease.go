package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const identityLeaseName = "host-identity"

// AcquireIdentityLease claims the host-level identity lease for holder. The
// claim succeeds when the lease is free, expired, or already held by the same
// holder (renewal). Both the discovery and download processes go through this
// row, so only one of them can mount a certificate at a time.
func (s *Store) AcquireIdentityLease(ctx context.Context, holder uuid.UUID, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO identity_lease (name, holder, acquired_at, expires_at)
		VALUES ($1, $2, now(), now() + $3)
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		WHERE identity_lease.holder = EXCLUDED.holder OR identity_lease.expires_at < now();`
	tag, err := s.pool.Exec(ctx, query, identityLeaseName, holder, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire identity lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseIdentityLease frees the lease if holder still owns it.
func (s *Store) ReleaseIdentityLease(ctx context.Context, holder uuid.UUID) error {
	query := `DELETE FROM identity_lease WHERE name = $1 AND holder = $2;`
	if _, err := s.pool.Exec(ctx, query, identityLeaseName, holder); err != nil {
		return fmt.Errorf("release identity lease: %w", err)
	}
	return nil
}
