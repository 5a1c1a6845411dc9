package leases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("leases: invalid input")
	ErrNotFound     = errors.New("leases: not found")
	ErrNotOwner     = errors.New("leases: not owner")
)

// SweepLease names the lease that elects the replica allowed to drain the backup queue.
const SweepLease = "bounty-sweep"

// Lease is a named, expiring ownership record.
type Lease struct {
	Name      string
	Owner     string
	ExpiresAt time.Time
}

// Store hands out named leases to one owner at a time.
//
// Acquire succeeds when the lease is absent, expired, or already held by owner;
// on success the expiry moves to now+ttl. Release is idempotent when the lease
// is already gone.
type Store interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (Lease, bool, error)
	Release(ctx context.Context, name, owner string) error
	Get(ctx context.Context, name string) (Lease, error)
}

func validate(name, owner string, ttl time.Duration) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(owner) == "" || ttl <= 0 {
		return fmt.Errorf("%w: name/owner must be non-empty and ttl must be > 0", ErrInvalidInput)
	}
	return nil
}

// NewOwner returns an owner id unique to this process.
func NewOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "/" + uuid.NewString()
}

// Guard holds one named lease on behalf of one owner.
type Guard struct {
	store Store
	name  string
	owner string
	ttl   time.Duration
}

func NewGuard(store Store, name, owner string, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidInput)
	}
	if err := validate(name, owner, ttl); err != nil {
		return nil, err
	}
	return &Guard{store: store, name: name, owner: owner, ttl: ttl}, nil
}

func (g *Guard) Owner() string { return g.owner }

func (g *Guard) TTL() time.Duration { return g.ttl }

// Hold acquires or extends the lease. It reports false while another owner
// holds it.
func (g *Guard) Hold(ctx context.Context) (bool, error) {
	_, ok, err := g.store.Acquire(ctx, g.name, g.owner, g.ttl)
	if err != nil {
		return false, fmt.Errorf("leases: hold %s: %w", g.name, err)
	}
	return ok, nil
}

func (g *Guard) Release(ctx context.Context) error {
	if err := g.store.Release(ctx, g.name, g.owner); err != nil {
		return fmt.Errorf("leases: release %s: %w", g.name, err)
	}
	return nil
}
