package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/graphcache"
	"mathtutor-gateway/internal/platform/rabbitmq"
	"mathtutor-gateway/internal/vectorstore"
)

// Applier stores one cache write.
type Applier interface {
	Apply(ctx context.Context, w graphcache.Write) error
}

// CacheWriteWorker consumes queued cache writes one at a time. A single
// consumer stores parents before the children queued after them; with more
// consumers a child that overtakes its parent is requeued once.
type CacheWriteWorker struct {
	conn      *amqp.Connection
	applier   Applier
	queueName string
	logger    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCacheWriteWorker(conn *amqp.Connection, applier Applier, queueName string, logger zerolog.Logger) *CacheWriteWorker {
	return &CacheWriteWorker{
		conn:      conn,
		applier:   applier,
		queueName: queueName,
		logger:    logger.With().Str("component", "cache_write_worker").Logger(),
	}
}

func (w *CacheWriteWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *CacheWriteWorker) handle(ctx context.Context, d amqp.Delivery) {
	var write graphcache.Write
	if err := json.Unmarshal(d.Body, &write); err != nil {
		w.logger.Error().Err(err).Msg("decode cache write failed")
		_ = d.Nack(false, false)
		return
	}

	if err := w.applier.Apply(ctx, write); err != nil {
		requeue := retryable(err) && !d.Redelivered
		w.logger.Warn().Err(err).
			Str("node_id", write.NodeID).
			Bool("requeue", requeue).
			Msg("apply cache write failed")
		_ = d.Nack(false, requeue)
		return
	}

	_ = d.Ack(false)
}

// retryable reports whether a failed write may succeed on a second attempt.
// A missing parent counts: with several consumers on the queue the parent
// may still be in flight on another one.
func retryable(err error) bool {
	return errors.Is(err, vectorstore.ErrUnavailable) ||
		errors.Is(err, vectorstore.ErrParentNotFound) ||
		errors.Is(err, ai.ErrEmbeddingUnavailable)
}

func (w *CacheWriteWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
