package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mathtutor-gateway/internal/graphcache"
)

const publishTimeout = 5 * time.Second

// CacheWritePublisher queues cache writes on a durable RabbitMQ queue.
type CacheWritePublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewCacheWritePublisher(conn *amqp.Connection, queueName string) *CacheWritePublisher {
	return &CacheWritePublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *CacheWritePublisher) Enqueue(ctx context.Context, w graphcache.Write) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal cache write payload failed: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := ch.PublishWithContext(
		pubCtx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    w.NodeID,
			Timestamp:    w.CreatedAt,
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish cache write failed: %w", err)
	}
	return nil
}

// DeclareQueue declares the durable queue shared by publisher and consumer.
func DeclareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s failed: %w", name, err)
	}
	return nil
}
