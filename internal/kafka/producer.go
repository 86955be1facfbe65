package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

var ErrProducerClosed = errors.New("kafka: producer closed")

// Producer writes envelopes to their event topic from a single background
// loop. Publish never blocks on the broker.
type Producer struct {
	w      *kafka.Writer
	log    *zap.Logger
	inbox  chan kafka.Message
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		// Topic is set per message.
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		log:   log,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

// Start runs the write loop until Close drains the inbox.
func (p *Producer) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			p.write(m)
		}
		if err := p.w.Close(); err != nil {
			p.log.Error("kafka_writer_close_failed", zap.Error(err))
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("kafka_publish_failed",
			zap.String("topic", m.Topic),
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	}
}

// Publish enqueues an envelope on the topic of its event type, keyed by the
// correlation id. The current trace context travels in the headers.
func (p *Producer) Publish(ctx context.Context, ev orders.Envelope) error {
	msg, err := Message(ctx, ev)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		return fmt.Errorf("kafka: inbox full, dropped %s %s", ev.EventType, ev.EventID)
	}
}

// Close stops accepting messages, flushes what is queued and closes the
// writer. It is safe to call more than once.
func (p *Producer) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.inbox)
		p.mu.Unlock()
	})
}

// WaitClosed blocks until the write loop has flushed and exited.
func (p *Producer) WaitClosed() { <-p.done }

// Message builds the kafka message for an envelope.
func Message(ctx context.Context, ev orders.Envelope) (kafka.Message, error) {
	topic := orders.TopicFor(ev.EventType)
	if topic == "" {
		return kafka.Message{}, fmt.Errorf("kafka: no topic for event type %q", ev.EventType)
	}
	value, err := Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(ev.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	}
	carrier := headerCarrier{headers: &headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return kafka.Message{
		Topic:   topic,
		Key:     orders.PartitionKey(ev.CorrelationID),
		Value:   value,
		Time:    ev.OccurredAt,
		Headers: headers,
	}, nil
}
