package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"recruiter-inbox/internal/domain"
)

// RedisIntakeQueue реализует очередь задач на базе Redis lists.
// Запасной бэкенд для окружений без RabbitMQ; подтверждений нет,
// задача считается доставленной в момент чтения.
type RedisIntakeQueue struct {
	client *redis.Client
	key    string
}

// NewRedisIntakeQueue создаёт очередь по указанному ключу.
func NewRedisIntakeQueue(client *redis.Client, key string) *RedisIntakeQueue {
	return &RedisIntakeQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisIntakeQueue) Enqueue(ctx context.Context, job domain.IntakeJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisIntakeQueue) Receive(ctx context.Context) (domain.IntakeJob, domain.AckFunc, error) {
	payload, err := popPayload(ctx, q.client, q.key)
	if err != nil {
		return domain.IntakeJob{}, nil, err
	}
	var job domain.IntakeJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.IntakeJob{}, nil, fmt.Errorf("decode job: %w", err)
	}
	return job, func(bool) error { return nil }, nil
}

// RedisDeliveryQueue — очередь доставки ответов поверх Redis lists.
// Та же семантика, что и у RedisIntakeQueue: без подтверждений.
type RedisDeliveryQueue struct {
	client *redis.Client
	key    string
}

// NewRedisDeliveryQueue создаёт очередь по указанному ключу.
func NewRedisDeliveryQueue(client *redis.Client, key string) *RedisDeliveryQueue {
	return &RedisDeliveryQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisDeliveryQueue) Enqueue(ctx context.Context, job domain.DeliveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisDeliveryQueue) Receive(ctx context.Context) (domain.DeliveryJob, domain.AckFunc, error) {
	payload, err := popPayload(ctx, q.client, q.key)
	if err != nil {
		return domain.DeliveryJob{}, nil, err
	}
	var job domain.DeliveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.DeliveryJob{}, nil, fmt.Errorf("decode job: %w", err)
	}
	return job, func(bool) error { return nil }, nil
}

func popPayload(ctx context.Context, client *redis.Client, key string) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := client.BRPop(ctx, time.Second, key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		if len(res) != 2 {
			return nil, errors.New("redis queue: unexpected response")
		}
		return []byte(res[1]), nil
	}
}
