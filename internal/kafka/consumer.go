package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Handler must return nil only when the message is fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	retry   RetryPolicy
	log     *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, retry: DefaultRetry, log: log}
}

// Start fetches messages and hands them to the worker pool until ctx is
// cancelled. All messages of a partition go to the same worker, so they are
// handled and committed in offset order. Workers finish their current
// message before Start returns.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 4)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.handle(ctx, id, h, m)
			}
		}(i, jobs[i])
	}
	defer wg.Wait()
	defer func() {
		for _, ch := range jobs {
			close(ch)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs[workerFor(m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func workerFor(partition, workers int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % workers
}

// handle retries h in place. A commit on a partition also covers every lower
// offset, so a failed message is only given up after the retry budget; the
// next commit on its partition then moves past it.
func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) {
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &m.Headers})
	fields := []zap.Field{
		zap.Int("worker", worker),
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	}

	err := c.retry.Run(ctx, func(attempt int) error {
		err := h(msgCtx, m)
		if err != nil {
			c.log.Warn("kafka_handle_failed", append(fields, zap.Int("attempt", attempt), zap.Error(err))...)
		}
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error("kafka_message_abandoned", append(fields, zap.Error(err))...)
		}
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		c.log.Warn("kafka_commit_failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}
