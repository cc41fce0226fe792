// Package certgate serializes access to the host's single mounted identity.
package certgate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Installer mutates the host-level certificate store.
type Installer interface {
	Clear(ctx context.Context) error
	Install(ctx context.Context, registrationID string) error
}

// Lease coordinates the identity across independently-running processes. The
// discovery and download jobs share one lease row so neither can mount a
// certificate while the other holds a session.
type Lease interface {
	AcquireIdentityLease(ctx context.Context, holder uuid.UUID, ttl time.Duration) (bool, error)
	ReleaseIdentityLease(ctx context.Context, holder uuid.UUID) error
}

const (
	defaultLeaseTTL     = 15 * time.Minute
	defaultLeaseBackoff = 5 * time.Second
)

// Gate wraps an Installer and guarantees that at most one automation session
// runs with its matching installed identity at any instant.
type Gate struct {
	mu           sync.Mutex
	installer    Installer
	lease        Lease
	holder       uuid.UUID
	leaseTTL     time.Duration
	leaseBackoff time.Duration
	logger       *zap.Logger
}

// Option customizes a Gate.
type Option func(*Gate)

// WithLease enables cross-process coordination through the given lease.
func WithLease(lease Lease) Option {
	return func(g *Gate) { g.lease = lease }
}

// WithLeaseTTL overrides how long a lease claim stays valid without renewal.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		if ttl > 0 {
			g.leaseTTL = ttl
		}
	}
}

// New constructs a Gate.
func New(installer Installer, logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		installer:    installer,
		holder:       uuid.New(),
		leaseTTL:     defaultLeaseTTL,
		leaseBackoff: defaultLeaseBackoff,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithIdentity clears any mounted identity, installs the one for
// registrationID, and invokes fn. The in-process mutex and the optional
// cross-process lease are both released on every exit path. When the provider
// has no certificate for registrationID the install error is returned without
// invoking fn.
func (g *Gate) WithIdentity(ctx context.Context, registrationID string, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lease != nil {
		if err := g.acquireLease(ctx); err != nil {
			return err
		}
		defer func() {
			// Best-effort: an expired lease is reclaimed by the next acquirer.
			if err := g.lease.ReleaseIdentityLease(context.WithoutCancel(ctx), g.holder); err != nil {
				g.logger.Warn("Failed to release identity lease", zap.Error(err))
			}
		}()
	}

	if err := g.installer.Clear(ctx); err != nil {
		return fmt.Errorf("clear mounted identity: %w", err)
	}
	if err := g.installer.Install(ctx, registrationID); err != nil {
		return err
	}

	g.logger.Debug("Identity mounted", zap.String("registration_id", registrationID))
	return fn(ctx)
}

func (g *Gate) acquireLease(ctx context.Context) error {
	for {
		ok, err := g.lease.AcquireIdentityLease(ctx, g.holder, g.leaseTTL)
		if err != nil {
			return fmt.Errorf("acquire identity lease: %w", err)
		}
		if ok {
			return nil
		}
		g.logger.Debug("Identity lease held elsewhere; waiting")
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for identity lease: %w", ctx.Err())
		case <-time.After(g.leaseBackoff):
		}
	}
}
