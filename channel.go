package topicbus

import (
	"context"
	"io"
	"time"
)

// ExchangeType represents a type of exchange.
type ExchangeType string

const (
	// ExchangeTypeDirect represents a direct exchange
	// this is where a message is posted to bound queues where the routing key matches exactly.
	ExchangeTypeDirect ExchangeType = "direct"
	// ExchangeTypeFanout represents a fanout exchange
	// this is where the routing key is ignored and all bound queues receive a copy of the message.
	ExchangeTypeFanout ExchangeType = "fanout"
	// ExchangeTypeTopic represents a topic exchange
	// this extends on top of a direct exchange by allowing the routing key to be pattern based rather
	// than having to match exactly.
	ExchangeTypeTopic ExchangeType = "topic"
	// ExchangeTypeHeaders represents a headers exchange
	// this is where one or more headers are used to route the message
	ExchangeTypeHeaders ExchangeType = "headers"
)

// DeliveryMode determines whether the broker keeps a message on disk.
type DeliveryMode uint8

const (
	// Transient messages are held in memory only (the zero value defers to the broker default).
	Transient DeliveryMode = 1
	// Persistent messages survive a broker restart when routed to a durable queue.
	Persistent DeliveryMode = 2
)

// CancelFunc a function which can be used to cancel an active consume
// this is safe to be called concurrently.
type CancelFunc = func()

// PublishOptions are the per message properties handed to the transport verbatim.
// The Gateway never inspects them.
type PublishOptions struct {
	// Mandatory asks the broker to return the message when it cannot be routed to any queue.
	Mandatory bool

	ContentType     string // MIME content type, detected from the body when empty
	ContentEncoding string // MIME content encoding
	DeliveryMode    DeliveryMode
	Priority        uint8
	CorrelationID   string
	Expiration      string // per message TTL in milliseconds, as a string
	MessageID       string
	Type            string
	AppID           string
	Timestamp       time.Time
	Headers         map[string]interface{}
}

// Channel represents a single AMQP channel in confirm mode.
//
// A channel is described as a lightweight connection which can be spawned from a single TCP connection
// source. All operations the Gateway performs are derived from a Channel rather than the connection itself.
type Channel interface {
	io.Closer
	Notifier

	// QoS sets the prefetch count and size on a channel. This effectively limits how many messages
	// can be passed to a consumer to process at once. For example if the count is 5 then after
	// the consumer has received 5 messages, the queue won't deliver any more until the consumer has ack'd
	// any of the messages it is currently processing.
	QoS(ctx context.Context, count, size int, global bool) error
	// CreateQueue attempts to declare a queue, returning the declared queue.
	CreateQueue(ctx context.Context, name string, durable, autoDelete, exclusive bool) (Queue, error)
	// BindQueue attempts to bind a queue to an exchange.
	BindQueue(ctx context.Context, queue, exchange, routingKey string) error
	// CreateExchange attempts to declare an exchange. Declaring an existing exchange with
	// the same arguments is a no-op.
	CreateExchange(ctx context.Context, name string, typ ExchangeType, durable, autoDelete bool) error
	// Publish publishes body onto an exchange using the supplied routing key and blocks until the
	// broker confirms it. A negative confirmation is reported as ErrPublishNacked.
	Publish(ctx context.Context, exchange, routingKey string, body []byte, opts PublishOptions) error
	// Consume starts consuming messages from a queue without auto-ack, inbound deliveries are sent to the
	// returned channel until ctx is done, cancel is called or the channel closes.
	Consume(ctx context.Context, queue, consumerTag string, exclusive bool) (deliveries <-chan Delivery, cancel CancelFunc, err error)
	// IsClosed determines if the channel is closed.
	IsClosed() bool
}
