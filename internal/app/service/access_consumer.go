package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sifan077/TempLogin/internal/app/model"
	"github.com/sifan077/TempLogin/internal/app/repository"
)

const (
	accessFetchBatch   = 10
	accessFetchMaxWait = 5 * time.Second
)

// AccessLogConsumer drains the ACCESS stream into the access log table.
type AccessLogConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	repo   repository.AccessLogRepository
	done   chan struct{}
}

// NewAccessLogConsumer creates a new access log consumer.
func NewAccessLogConsumer(js nats.JetStreamContext, logger *zap.Logger, repo repository.AccessLogRepository) *AccessLogConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessLogConsumer{js: js, logger: logger, repo: repo, done: make(chan struct{})}
}

// Start creates the stream and durable consumer when missing and consumes until ctx is done.
func (c *AccessLogConsumer) Start(ctx context.Context) error {
	if _, err := c.js.StreamInfo(model.AccessStreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to look up stream: %w", err)
		}
		if _, err := c.js.AddStream(&nats.StreamConfig{
			Name:     model.AccessStreamName,
			Subjects: []string{model.AccessStreamSubject},
			MaxBytes: model.AccessStreamMaxBytes,
		}); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	if _, err := c.js.ConsumerInfo(model.AccessStreamName, model.AccessConsumerName); err != nil {
		if _, err := c.js.AddConsumer(model.AccessStreamName, &nats.ConsumerConfig{
			Durable:   model.AccessConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		}); err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.AccessStreamSubject, model.AccessConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

// Done is closed once the consume loop has exited.
func (c *AccessLogConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *AccessLogConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer close(c.done)
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("failed to unsubscribe access consumer", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info("access log consumer stopped")
			return
		}

		msgs, err := sub.Fetch(accessFetchBatch, nats.MaxWait(accessFetchMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.Info("access log consumer stopped", zap.Error(err))
				return
			}
			c.logger.Error("failed to fetch messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *AccessLogConsumer) handle(ctx context.Context, msg *nats.Msg) {
	var entry model.AccessLogEntry
	if err := json.Unmarshal(msg.Data, &entry); err != nil {
		// A payload that cannot be decoded will never succeed; drop it.
		c.logger.Error("failed to unmarshal access log entry", zap.Error(err))
		_ = msg.Term()
		return
	}

	if err := c.repo.Create(context.WithoutCancel(ctx), &entry); err != nil {
		c.logger.Error("failed to store access log entry",
			zap.String("id", entry.ID),
			zap.String("link_id", entry.LinkID),
			zap.Error(err))
		_ = msg.Nak()
		return
	}

	c.logger.Debug("access log entry stored",
		zap.String("id", entry.ID),
		zap.String("link_id", entry.LinkID),
		zap.String("outcome", entry.Outcome),
		zap.Time("timestamp", entry.Timestamp),
	)
	_ = msg.Ack()
}
