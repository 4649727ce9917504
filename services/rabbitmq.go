package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"socialweb/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	FeedEventPostCreated = "post_created"
	feedRoutingKey       = "post.created"
	feedBindingKey       = "post.*"
)

// FeedEvent - a live feed event as it travels between frontend replicas and
// as it is pushed to browsers.
type FeedEvent struct {
	Event       string      `json:"event"`
	Post        models.Post `json:"post"`
	PublishedAt time.Time   `json:"published_at"`
}

// FeedBroker fans new-post events out to every frontend replica through a
// topic exchange. Each replica consumes from its own exclusive queue.
type FeedBroker struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *zap.Logger
}

func DialFeedBroker(url, exchange string, log *zap.Logger) (*FeedBroker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	log.Info("RabbitMQ initialized", zap.String("exchange", exchange))
	return &FeedBroker{conn: conn, channel: channel, exchange: exchange, log: log}, nil
}

func (b *FeedBroker) PublishNewPost(ctx context.Context, post models.Post) error {
	body, err := json.Marshal(FeedEvent{
		Event:       FeedEventPostCreated,
		Post:        post,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.channel.PublishWithContext(ctx,
		b.exchange,
		feedRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Consume declares this replica's queue and hands every event to handler on
// a background goroutine until ctx ends or the channel closes.
func (b *FeedBroker) Consume(ctx context.Context, handler func(FeedEvent)) error {
	q, err := b.channel.QueueDeclare(
		"",
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := b.channel.QueueBind(q.Name, feedBindingKey, b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := b.channel.Consume(
		q.Name,
		"",
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					b.log.Warn("feed consumer channel closed", zap.String("queue", q.Name))
					return
				}
				var event FeedEvent
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					b.log.Warn("failed to unmarshal feed event", zap.Error(err))
					continue
				}
				handler(event)
			}
		}
	}()
	return nil
}

func (b *FeedBroker) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	return b.conn.Close()
}
