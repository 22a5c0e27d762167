package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue keeps pending jobs in a Redis list so they survive restarts.
// Dequeued jobs are parked in a processing list until Done removes them.
type RedisQueue struct {
	client        *redis.Client
	name          string
	processing    string
	blockInterval time.Duration
}

func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisQueue{
		client:        client,
		name:          QueueMemorialVideo,
		processing:    processingKey(QueueMemorialVideo),
		blockInterval: 5 * time.Second,
	}, nil
}

func processingKey(queueName string) string {
	return queueName + ":processing"
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Enqueue(ctx context.Context, personID int64) error {
	return q.push(ctx, newJob(personID))
}

func (q *RedisQueue) Shutdown(ctx context.Context) error {
	return q.push(ctx, newJob(ShutdownPersonID))
}

func (q *RedisQueue) push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// LPUSH + BRPOPLPUSH keeps FIFO order.
	return q.client.LPush(ctx, q.name, data).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		result, err := q.client.BRPopLPush(ctx, q.name, q.processing, q.blockInterval).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue // No job available, retry
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to dequeue: %w", err)
		}

		job, err := decodeJob(result)
		if err != nil {
			// Drop the poison entry so it is not recovered on every restart.
			q.client.LRem(ctx, q.processing, 1, result)
			return nil, err
		}
		return job, nil
	}
}

func decodeJob(payload string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	job.raw = payload
	return &job, nil
}

func (q *RedisQueue) Done(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	return q.client.LRem(ctx, q.processing, 1, job.raw).Err()
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Recover moves jobs left in the processing list by a previous process back
// to the front of the pending queue, and drops shutdown sentinels that the
// previous process never consumed.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	if err := q.purgeSentinels(ctx); err != nil {
		return 0, err
	}

	recovered := 0
	for {
		// Pending jobs are consumed from the right, so recovered ones go there.
		_, err := q.client.LMove(ctx, q.processing, q.name, "LEFT", "RIGHT").Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to recover jobs: %w", err)
		}
		recovered++
	}

	if recovered > 0 {
		log.Printf("[Queue] Recovered %d in-flight job(s) from %s", recovered, q.processing)
	}
	return recovered, nil
}

func (q *RedisQueue) purgeSentinels(ctx context.Context) error {
	for _, key := range []string{q.name, q.processing} {
		payloads, err := q.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", key, err)
		}

		for _, payload := range payloads {
			job, err := decodeJob(payload)
			if err != nil || !job.IsShutdown() {
				continue
			}
			if err := q.client.LRem(ctx, key, 0, payload).Err(); err != nil {
				return fmt.Errorf("failed to drop stale shutdown job: %w", err)
			}
			log.Printf("[Queue] Dropped stale shutdown job %s from %s", job.ID, key)
		}
	}
	return nil
}
