package rabbitmq

import (
	"context"

	"github.com/rabbitmq/amqp091-go"

	"github.com/jacklaaa89/topicbus"
)

// queue represents a wrapped amqp091.Queue bound to the channel which declared it.
type queue struct {
	amqp091.Queue
	ch topicbus.Channel // ch a channel instance; so we can add some helper functionality to the queue.
}

// Name returns the name of the queue.
func (q *queue) Name() string { return q.Queue.Name }

// Bind attempts to bind this queue to the requested exchange using the routing key.
func (q *queue) Bind(ctx context.Context, exchange, routingKey string) error {
	return q.ch.BindQueue(ctx, q.Name(), exchange, routingKey)
}
