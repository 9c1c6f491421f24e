package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lifestory-backend/internal/ingestion"
)

// Only the owner token that set the key may extend or delete it.
var (
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// RedisLeaser implements ingestion.Leaser with SET NX PX, so poll loops are exclusive across
// API instances.
type RedisLeaser struct {
	redis *redis.Client
}

func NewRedisLeaser(client *redis.Client) *RedisLeaser {
	return &RedisLeaser{redis: client}
}

func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (ingestion.Lease, error) {
	owner := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ingestion.ErrPollInProgress
	}
	return &redisLease{redis: l.redis, key: key, owner: owner, ttl: ttl}, nil
}

type redisLease struct {
	redis *redis.Client
	key   string
	owner string
	ttl   time.Duration
}

func (l *redisLease) Owner() string { return l.owner }

func (l *redisLease) Renew(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.redis, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ingestion.ErrPollInProgress
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.redis, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
