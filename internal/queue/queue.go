package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pesasats/pesasats-api/internal/domain/transaction"
)

// WakeChannel is the Redis pub/sub channel workers subscribe to so a
// fresh job is picked up without waiting for the next poll tick.
const WakeChannel = "pesasats:jobs"

// Queue is the intake side of the dispatch pipeline. The transactions
// table is the queue; Redis only shortens the latency between enqueue
// and claim. Losing Redis degrades to polling, it never loses jobs.
type Queue struct {
	repo  transaction.Repository
	redis *redis.Client
}

// New creates the queue. redisClient may be nil.
func New(repo transaction.Repository, redisClient *redis.Client) *Queue {
	return &Queue{repo: repo, redis: redisClient}
}

// Enqueue durably records the transaction, then wakes a worker.
// Persistence failure fails the enqueue; the wake-up is best effort.
func (q *Queue) Enqueue(ctx context.Context, t *transaction.Transaction) error {
	if err := q.repo.Create(ctx, t); err != nil {
		return err
	}

	if q.redis != nil {
		pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := q.redis.Publish(pubCtx, WakeChannel, t.ID.String()).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to publish job wake-up; workers will poll")
		}
	}
	return nil
}

// Wake subscribes to the wake channel and forwards a signal per
// message. Returns a no-op drain channel when Redis is absent.
func Wake(ctx context.Context, redisClient *redis.Client) <-chan struct{} {
	ch := make(chan struct{}, 1)
	if redisClient == nil {
		return ch
	}

	sub := redisClient.Subscribe(ctx, WakeChannel)
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Channel():
				if !ok {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}
