package topicbus

import (
	"context"
)

// Delivery represents an inbound AMQP message which has not been acknowledged yet.
type Delivery interface {
	// Context returns a scoped context for this specific delivery.
	Context() context.Context
	// Tag returns the channel scoped delivery tag.
	Tag() uint64
	// RoutingKey returns the routing key the message was published with.
	RoutingKey() string
	// Body returns the raw message body.
	Body() []byte
	// Redelivered whether the message has been delivered previously.
	Redelivered() bool
	// Ack acknowledges that we have processed the message.
	Ack() error
	// Nack negatively acknowledges the message, asking the broker to requeue it
	// when requeue is true, otherwise it is dead-lettered or dropped.
	Nack(requeue bool) error
}

// Queue represents a single declared AMQP queue.
type Queue interface {
	// Name returns the name of the queue.
	Name() string
	// Bind attempts to bind this queue to an exchange based on the supplied routing key.
	Bind(ctx context.Context, exchange, routingKey string) error
}
