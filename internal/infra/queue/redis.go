package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"relwatch/internal/domain"
)

// RedisNotifyQueue реализует очередь уведомлений на базе Redis lists.
// Используется как резервный вариант, когда RabbitMQ не настроен.
type RedisNotifyQueue struct {
	client *redis.Client
	key    string
}

var _ domain.NotifyQueue = (*RedisNotifyQueue)(nil)

// NewRedisNotifyQueue создаёт очередь по указанному ключу.
func NewRedisNotifyQueue(client *redis.Client, key string) *RedisNotifyQueue {
	return &RedisNotifyQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisNotifyQueue) Enqueue(ctx context.Context, job domain.NotifyJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("кодирование задачи: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("постановка задачи: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. ack(false) возвращает
// задачу в конец очереди.
func (q *RedisNotifyQueue) Receive(ctx context.Context) (domain.NotifyJob, domain.NotifyAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.NotifyJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.NotifyJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.NotifyJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.NotifyJob{}, nil, errors.New("redis queue: unexpected response")
		}
		raw := res[1]
		var job domain.NotifyJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return domain.NotifyJob{}, nil, fmt.Errorf("декодирование задачи: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, raw).Err()
		}
		return job, ack, nil
	}
}
