package mirror

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// repairQueueKey is the Redis list holding pending repairs.
const repairQueueKey = "certmint:mirror:repair"

// RedisQueue backs the repair queue with a Redis list so entries survive
// a restart of the service.
type RedisQueue struct {
	client redis.UniversalClient
}

// NewRedisQueue constructs a Redis-backed repair queue.
func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Push(ctx context.Context, certificateID string) error {
	if err := q.client.RPush(ctx, repairQueueKey, certificateID).Err(); err != nil {
		return fmt.Errorf("push repair entry: %w", err)
	}
	return nil
}

// Drain reads and deletes the whole list in one transaction so entries
// pushed during the drain are never lost.
func (q *RedisQueue) Drain(ctx context.Context) ([]string, error) {
	pipe := q.client.TxPipeline()
	entries := pipe.LRange(ctx, repairQueueKey, 0, -1)
	pipe.Del(ctx, repairQueueKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("drain repair queue: %w", err)
	}
	return entries.Val(), nil
}
