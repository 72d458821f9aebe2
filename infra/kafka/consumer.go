package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler processes one message payload. Returning a backoff.Permanent
// error skips the retries.
type Handler func(ctx context.Context, payload []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers    []string
	Topic      string
	GroupID    string
	MaxRetries uint64 // handler attempts beyond the first
}

/*
Consumer reads a topic as part of a consumer group.

Each message is handed to the handler with bounded exponential backoff
and committed afterwards whatever the outcome, so a poison message never
blocks the partition.
*/
type Consumer struct {
	topic   string
	reader  messageReader
	handler Handler
	retries uint64
	log     *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, h Handler, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  250 * time.Millisecond,
	})
	return newConsumer(cfg.Topic, r, h, cfg.MaxRetries, log)
}

func newConsumer(topic string, r messageReader, h Handler, retries uint64, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	if retries == 0 {
		retries = 3
	}
	return &Consumer{
		topic:   topic,
		reader:  r,
		handler: h,
		retries: retries,
		log:     log.Named("consumer").With(zap.String("topic", topic)),
	}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.Info("consumer stopped")
				return nil
			}
			return err
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackoff(), c.retries),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		return c.handler(ctx, msg.Value)
	}, policy, func(err error, wait time.Duration) {
		c.log.Warn("handler failed, retrying",
			zap.ByteString("key", msg.Key),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		c.log.Error("dropping message",
			zap.ByteString("key", msg.Key),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
