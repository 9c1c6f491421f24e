package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lease is an ownership token over one record's poll loop. It expires unless renewed, so a
// crashed owner cannot block a resume forever.
type Lease interface {
	Owner() string
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// Leaser hands out leases. Acquire returns ErrPollInProgress while another owner holds key.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

func pollLeaseKey(recordID uuid.UUID) string {
	return "ingestion_poll_lease:" + recordID.String()
}

// LocalLeaser keeps leases in process memory. It is enough for a single API instance and for
// tests; multi-instance deployments use the Redis leaser.
type LocalLeaser struct {
	mu    sync.Mutex
	held  map[string]localHold
	nowFn func() time.Time
}

type localHold struct {
	owner     string
	expiresAt time.Time
}

func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{
		held:  make(map[string]localHold),
		nowFn: time.Now,
	}
}

func (l *LocalLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if h, ok := l.held[key]; ok && now.Before(h.expiresAt) {
		return nil, ErrPollInProgress
	}

	owner := uuid.NewString()
	l.held[key] = localHold{owner: owner, expiresAt: now.Add(ttl)}
	return &localLease{leaser: l, key: key, owner: owner, ttl: ttl}, nil
}

type localLease struct {
	leaser *LocalLeaser
	key    string
	owner  string
	ttl    time.Duration
}

func (l *localLease) Owner() string { return l.owner }

func (l *localLease) Renew(ctx context.Context) error {
	l.leaser.mu.Lock()
	defer l.leaser.mu.Unlock()

	h, ok := l.leaser.held[l.key]
	if !ok || h.owner != l.owner {
		return ErrPollInProgress
	}
	h.expiresAt = l.leaser.nowFn().Add(l.ttl)
	l.leaser.held[l.key] = h
	return nil
}

func (l *localLease) Release(ctx context.Context) error {
	l.leaser.mu.Lock()
	defer l.leaser.mu.Unlock()

	if h, ok := l.leaser.held[l.key]; ok && h.owner == l.owner {
		delete(l.leaser.held, l.key)
	}
	return nil
}
