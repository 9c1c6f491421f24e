package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lifestory-backend/internal/models"
)

const PollQueue = "queue:ingestion-poll"

// ErrQueueEmpty is returned by Pop when nothing arrived before the timeout.
var ErrQueueEmpty = errors.New("poll queue empty")

// RedisQueue is the Redis list poll tasks travel through. It doubles as the dispatcher the
// ingestion service enqueues into.
type RedisQueue struct {
	redis *redis.Client
	name  string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{redis: client, name: PollQueue}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task models.PollTask) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := q.redis.LPush(ctx, q.name, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue poll task for %s: %w", task.RecordID, err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest task.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*models.PollTask, error) {
	result, err := q.redis.BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}

	var task models.PollTask
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to parse poll task: %w", err)
	}
	return &task, nil
}
