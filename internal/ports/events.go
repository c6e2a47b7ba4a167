package ports

import "context"

// EventPublisher is the outbound event publish port.
// The partition key keeps all events of one session ordered on the broker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}
