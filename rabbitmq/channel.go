package rabbitmq

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rabbitmq/amqp091-go"

	"github.com/jacklaaa89/topicbus"
)

// channel represents a wrapped amqp091.Channel in confirm mode.
type channel struct {
	mu     sync.RWMutex // mu a guarding mutex for the internal channel.
	omitMu sync.Mutex   // mutex for events.
	logger *slog.Logger

	// closed represents whether we have called close specifically on our channel
	// or the broker has closed it for us.
	closed bool
	closes closeListeners // handlers registered through NotifyClose.

	Channel amqp091Channel // the active channel.
}

// QoS attempts to set the prefetch count and size for a consumer.
func (c *channel) QoS(ctx context.Context, count, size int, global bool) error {
	return c.onChannel(ctx, func(ch amqp091Channel) error {
		return ch.Qos(count, size, global)
	})
}

// CreateQueue attempts to create a new queue.
func (c *channel) CreateQueue(ctx context.Context, name string, durable, autoDelete, exclusive bool) (topicbus.Queue, error) {
	var q amqp091.Queue
	err := c.onChannel(ctx, func(ch amqp091Channel) error {
		var qErr error
		q, qErr = ch.QueueDeclare(name, durable, autoDelete, exclusive, false, nil)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	return &queue{q, c}, nil
}

// BindQueue attempts to bind a queue to an exchange.
func (c *channel) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	return c.onChannel(ctx, func(ch amqp091Channel) error {
		return ch.QueueBind(queue, routingKey, exchange, false, nil)
	})
}

// CreateExchange attempts to create a new exchange.
func (c *channel) CreateExchange(
	ctx context.Context,
	name string,
	typ topicbus.ExchangeType,
	durable, autoDelete bool,
) error {
	return c.onChannel(ctx, func(ch amqp091Channel) error {
		return ch.ExchangeDeclare(name, string(typ), durable, autoDelete, false, false, nil)
	})
}

// Publish publishes body onto an exchange with the supplied routing key and waits for
// the broker to confirm it.
func (c *channel) Publish(ctx context.Context, exchange, routingKey string, body []byte, opts topicbus.PublishOptions) error {
	var dc *amqp091.DeferredConfirmation
	err := c.onChannel(ctx, func(ch amqp091Channel) error {
		var pErr error
		dc, pErr = ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, opts.Mandatory, false, publishing(body, opts))
		return pErr
	})
	if err != nil {
		return err
	}

	ok, err := waitConfirm(ctx, dc)
	if err != nil {
		logError(ctx, c.logger, err)
		return err
	}
	if !ok {
		return topicbus.ErrPublishNacked
	}
	return nil
}

// publishing converts the body and options into an amqp091.Publishing, detecting the
// content type from the body when none is set.
func publishing(body []byte, opts topicbus.PublishOptions) amqp091.Publishing {
	contentType := opts.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(body).String()
	}

	return amqp091.Publishing{
		Headers:         amqp091.Table(opts.Headers),
		ContentType:     contentType,
		ContentEncoding: opts.ContentEncoding,
		DeliveryMode:    uint8(opts.DeliveryMode),
		Priority:        opts.Priority,
		CorrelationId:   opts.CorrelationID,
		Expiration:      opts.Expiration,
		MessageId:       opts.MessageID,
		Timestamp:       opts.Timestamp,
		Type:            opts.Type,
		AppId:           opts.AppID,
		Body:            body,
	}
}

// NotifyClose registers a handler to be triggered on a close.
// fn is triggered straight away when the channel is already closed.
func (c *channel) NotifyClose(fn func(err error)) {
	if fn == nil {
		return
	}

	c.omitMu.Lock()
	added := c.closes.add(fn)
	c.omitMu.Unlock()

	if !added {
		go fn(nil)
	}
}

// Close wraps the original close function.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	err := c.Channel.Close()
	c.mu.Unlock()

	go c.onClose(nil)
	return err
}

// IsClosed wraps the original IsClosed function.
func (c *channel) IsClosed() bool {
	if c == nil {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}

	return isClosed(c.Channel)
}

// represents a function which does nothing.
var emptyFunc = func() {
	// intentionally empty to stop calling a nil function
	// to cancel the consume process on error.
}

// Consume starts consuming from queue with manual acknowledgement. Deliveries are pushed
// onto the returned channel, which is closed once ctx is done, cancel is called or the
// broker stops the consume.
func (c *channel) Consume(
	ctx context.Context,
	queue, consumerTag string,
	exclusive bool,
) (deliveries <-chan topicbus.Delivery, cancel topicbus.CancelFunc, err error) {
	var dc <-chan amqp091.Delivery
	err = c.onChannel(ctx, func(ch amqp091Channel) error {
		var cErr error
		dc, cErr = ch.Consume(queue, consumerTag, false, exclusive, false, false, nil)
		return cErr
	})
	if err != nil {
		return nil, emptyFunc, err
	}

	ctx, cancel = context.WithCancel(ctx)
	out := make(chan topicbus.Delivery)

	go func() {
		defer close(out)
		defer c.cancelConsume(ctx, consumerTag)

		for {
			select {
			case <-ctx.Done():
				// the context is for the consuming context only
				// it doesn't control the entire channel connection.
				return
			case d, ok := <-dc:
				if !ok {
					return
				}

				select {
				case out <- &delivery{ctx, d}:
				case <-ctx.Done():
					// never handed out, let another consumer have it.
					logError(ctx, c.logger, d.Nack(false, true))
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// cancelConsume stops the broker from sending further deliveries to consumerTag.
func (c *channel) cancelConsume(ctx context.Context, consumerTag string) {
	if c.IsClosed() {
		return // the broker already forgot about the consumer.
	}

	logError(ctx, c.logger, c.onChannel(ctx, func(ch amqp091Channel) error {
		return ch.Cancel(consumerTag, false)
	}))
}

// onChannel helper function to perform an action on the raw amqp091.Channel
func (c *channel) onChannel(ctx context.Context, fn func(ch amqp091Channel) error) error {
	if c.IsClosed() {
		return amqp091.ErrClosed
	}

	c.mu.RLock()
	err := fn(c.Channel)
	c.mu.RUnlock()

	if err != nil {
		logError(ctx, c.logger, err)
	}
	return err
}

// init listens for the channel being closed underneath us.
func (c *channel) init() {
	handleNotifyClose(c.Channel, c.onClose)
}

// onClose marks the channel closed and omits the close event to all handlers.
// a close will only ever be omitted once.
func (c *channel) onClose(err error) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.omitMu.Lock()
	fns := c.closes.fire()
	c.omitMu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}
