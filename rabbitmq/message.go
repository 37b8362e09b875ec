package rabbitmq

import (
	"context"

	"github.com/rabbitmq/amqp091-go"
)

// delivery implements topicbus.Delivery
type delivery struct {
	ctx context.Context
	amqp091.Delivery
}

// Context returns the attached ctx
func (d *delivery) Context() context.Context {
	return d.ctx
}

// Tag returns the delivery tag.
func (d *delivery) Tag() uint64 {
	return d.Delivery.DeliveryTag
}

// RoutingKey returns the routing key the message was published with.
func (d *delivery) RoutingKey() string {
	return d.Delivery.RoutingKey
}

// Body returns the message body.
func (d *delivery) Body() []byte {
	return d.Delivery.Body
}

// Redelivered whether the message has been redelivered previously.
func (d *delivery) Redelivered() bool {
	return d.Delivery.Redelivered
}

// Ack attempts to acknowledge a message.
func (d *delivery) Ack() error {
	return d.Delivery.Ack(false)
}

// Nack attempts to negatively acknowledge a message.
func (d *delivery) Nack(requeue bool) error {
	return d.Delivery.Nack(false, requeue)
}
