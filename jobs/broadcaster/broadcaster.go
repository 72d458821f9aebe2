// Package broadcaster relays outbox records to Kafka through a sarama
// SyncProducer.
package broadcaster

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"orderpipe/infra/metrics"
	"orderpipe/infra/outbox"
)

type Config struct {
	Interval   time.Duration // default 250ms
	MaxRetries uint32        // attempts before a record is parked as FAILED, default 5
}

type Broadcaster struct {
	outbox   *outbox.Outbox
	producer sarama.SyncProducer
	interval time.Duration
	maxRetry uint32
	log      *zap.Logger
	metrics  *metrics.Collectors

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

// NewSyncProducer builds the producer the relay expects: acks from all
// replicas, successes returned, keys hashed to partitions.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return sarama.NewSyncProducer(brokers, cfg)
}

func New(ob *outbox.Outbox, producer sarama.SyncProducer, cfg Config, log *zap.Logger, m *metrics.Collectors) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		outbox:   ob,
		producer: producer,
		interval: cfg.Interval,
		maxRetry: cfg.MaxRetries,
		log:      log.Named("broadcaster"),
		metrics:  m,
	}
}

// ------------------------------------------------
// START LOOP
// ------------------------------------------------

func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)

	b.log.Info("broadcaster started", zap.Duration("interval", b.interval))
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.RelayOnce(ctx)
			}
		}
	}()
}

func (b *Broadcaster) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		b.wg.Wait()
	}
}

// ------------------------------------------------
// RELAY
// ------------------------------------------------

// RelayOnce sends every pending record once and returns how many were
// acknowledged. Records are collected before sending so the scan never
// overlaps a state write.
func (b *Broadcaster) RelayOnce(ctx context.Context) int {
	var pending []outbox.Record
	if err := b.outbox.ScanPending(func(r outbox.Record) error {
		pending = append(pending, r)
		return nil
	}); err != nil {
		b.log.Error("outbox scan failed", zap.Error(err))
		return 0
	}

	acked := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		if b.relay(rec) {
			acked++
		}
	}
	return acked
}

func (b *Broadcaster) relay(rec outbox.Record) bool {
	if err := b.outbox.MarkSent(rec.Seq); err != nil {
		b.log.Error("mark sent failed", zap.Uint64("seq", rec.Seq), zap.Error(err))
		return false
	}

	msg := &sarama.ProducerMessage{
		Topic: rec.Topic,
		Key:   sarama.StringEncoder(rec.Key),
		Value: sarama.ByteEncoder(rec.Payload),
	}
	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		b.metrics.Relayed(rec.Topic, false)
		b.failed(rec, err)
		return false
	}

	// acked: the record has no further use
	if err := b.outbox.Delete(rec.Seq); err != nil {
		b.log.Error("outbox delete failed", zap.Uint64("seq", rec.Seq), zap.Error(err))
	}
	b.metrics.Relayed(rec.Topic, true)
	b.log.Debug("relayed",
		zap.Uint64("seq", rec.Seq),
		zap.String("topic", rec.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return true
}

func (b *Broadcaster) failed(rec outbox.Record, cause error) {
	next, err := b.outbox.MarkRetry(rec.Seq)
	if err != nil {
		b.log.Error("mark retry failed", zap.Uint64("seq", rec.Seq), zap.Error(err))
		return
	}
	if next.Retries < b.maxRetry {
		b.log.Warn("relay failed, will retry",
			zap.Uint64("seq", rec.Seq),
			zap.Uint32("retries", next.Retries),
			zap.Error(cause),
		)
		return
	}

	if err := b.outbox.MarkFailed(rec.Seq); err != nil {
		b.log.Error("mark failed failed", zap.Uint64("seq", rec.Seq), zap.Error(err))
		return
	}
	b.log.Error("relay gave up, record parked",
		zap.Uint64("seq", rec.Seq),
		zap.String("topic", rec.Topic),
		zap.String("key", rec.Key),
		zap.Error(cause),
	)
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

// Close stops the loop and closes the producer.
func (b *Broadcaster) Close() error {
	b.Stop()
	return b.producer.Close()
}
