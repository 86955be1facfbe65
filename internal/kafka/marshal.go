package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func Marshal(ev orders.Envelope) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", ev.EventType, err)
	}
	return b, nil
}

func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var ev orders.Envelope
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return orders.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if ev.EventID == "" || ev.EventType == "" {
		return orders.Envelope{}, fmt.Errorf("decode envelope: missing event id or type")
	}
	return ev, nil
}

// UnwrapPayload decodes an envelope payload into its concrete type.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// headerCarrier exposes kafka headers to the otel propagator.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	out := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		out = append(out, h.Key)
	}
	return out
}
