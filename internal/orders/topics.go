package orders

const (
	TopicOrderCreated         = "order.created"
	TopicPaymentSessionOpened = "order.payment.session_opened"
	TopicOrderStatusChanged   = "order.status.changed"
	TopicPaymentNotified      = "order.payment.notified"
)

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventPaymentSessionOpened:
		return TopicPaymentSessionOpened
	case EventOrderStatusChanged:
		return TopicOrderStatusChanged
	case EventPaymentNotified:
		return TopicPaymentNotified
	}
	return ""
}

// Partition key = order_id (or gateway transaction id), so all events for one
// order keep their order.
func PartitionKey(id string) []byte { return []byte(id) }
