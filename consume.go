package topicbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"
)

// Message is a decoded inbound delivery handed to a Handler.
type Message struct {
	Payload     interface{}     // the body parsed as JSON
	Body        json.RawMessage // the raw JSON body
	RoutingKey  string
	Tag         uint64
	Redelivered bool
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Body, v)
}

// ResolveFunc settles a delivery. A nil err acks it, otherwise it is nacked and
// requeued when requeue is true. Only the first call has an effect, any later call
// returns ErrAlreadyResolved.
type ResolveFunc func(err error, requeue bool) error

// Handler processes a message and settles it through resolve, either before returning
// or later from another goroutine. A handler which panics before resolving has its
// delivery nacked without requeue.
type Handler func(ctx context.Context, msg Message, resolve ResolveFunc)

// Consume registers handler as the only processor of the consume queue. Deliveries are
// dispatched in arrival order until ctx is done or the gateway closes; Consume itself returns
// once the broker accepted the consumer.
func (g *Gateway) Consume(ctx context.Context, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}

	target, ok := g.cfg.consumeQueue()
	if !ok {
		return ErrNoConsumeTarget
	}

	ch, err := g.claimConsumer()
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	deliveries, cancel, err := ch.Consume(ctx, target.Name, g.consumerTag, false)
	if err != nil {
		stop()
		g.releaseConsumer()
		return fmt.Errorf("topicbus: consume %s: %w", target.Name, err)
	}

	d := &dispatcher{queue: target.Name, handler: handler, logger: g.logger}

	g.mu.Lock()
	if g.state != StateReady {
		// closed while the consumer was being registered.
		g.mu.Unlock()
		stop()
		cancel()
		return ErrClosed
	}
	g.stop = stop
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer g.releaseConsumer()
		defer cancel()
		d.run(ctx, deliveries)
	}()

	g.logger.InfoContext(ctx, "consuming",
		"queue", target.Name,
		"consumerTag", g.consumerTag,
		"prefetch", g.cfg.Prefetch,
	)
	return nil
}

// claimConsumer reserves the single consumer slot of a ready gateway.
func (g *Gateway) claimConsumer() (Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case g.state == StateClosed:
		return nil, ErrClosed
	case g.state != StateReady:
		return nil, ErrNotConnected
	case g.consuming:
		return nil, ErrAlreadyConsuming
	}

	g.consuming = true
	return g.ch, nil
}

func (g *Gateway) releaseConsumer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consuming = false
}

// dispatcher decodes inbound deliveries and maps handler outcomes onto acks and nacks.
type dispatcher struct {
	queue   string
	handler Handler
	logger  *slog.Logger
}

// run dispatches deliveries until ctx is done or the delivery stream closes.
func (d *dispatcher) run(ctx context.Context, deliveries <-chan Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case dl, ok := <-deliveries:
			if !ok {
				d.logger.WarnContext(ctx, "delivery stream closed", "queue", d.queue)
				return
			}
			d.dispatch(dl)
		}
	}
}

// dispatch resolves a single delivery, a malformed one is nacked without requeue
// and never reaches the handler.
func (d *dispatcher) dispatch(dl Delivery) {
	ctx := dl.Context()

	msg, err := decode(dl)
	if err != nil {
		d.logger.ErrorContext(ctx, "discarding malformed delivery",
			"queue", d.queue,
			"tag", dl.Tag(),
			"error", err,
		)
		logError(ctx, d.logger, dl.Nack(false))
		return
	}

	res := &resolution{delivery: dl, queue: d.queue, logger: d.logger}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		d.logger.ErrorContext(ctx, "handler panicked", "queue", d.queue, "tag", dl.Tag(), "panic", r)
		if res.done.Load() {
			return // settled before the panic.
		}
		if err := res.resolve(fmt.Errorf("%w: %v", ErrHandlerPanic, r), false); err != nil && !errors.Is(err, ErrAlreadyResolved) {
			logError(ctx, d.logger, err)
		}
	}()

	d.handler(ctx, msg, res.resolve)
}

// decode parses the body of dl as UTF-8 encoded JSON.
func decode(dl Delivery) (Message, error) {
	body := dl.Body()
	if !utf8.Valid(body) {
		return Message{}, &DecodeError{Tag: dl.Tag(), Err: errors.New("body is not valid UTF-8")}
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Message{}, &DecodeError{Tag: dl.Tag(), Err: err}
	}

	return Message{
		Payload:     payload,
		Body:        json.RawMessage(body),
		RoutingKey:  dl.RoutingKey(),
		Tag:         dl.Tag(),
		Redelivered: dl.Redelivered(),
	}, nil
}

// resolution is the one-shot token settling a single delivery.
type resolution struct {
	delivery Delivery
	queue    string
	logger   *slog.Logger
	done     atomic.Bool
}

func (r *resolution) resolve(err error, requeue bool) error {
	if !r.done.CompareAndSwap(false, true) {
		r.logger.Error("delivery resolved more than once", "queue", r.queue, "tag", r.delivery.Tag())
		return ErrAlreadyResolved
	}

	if err == nil {
		return r.ack()
	}

	r.logger.Warn("handler rejected delivery",
		"queue", r.queue,
		"tag", r.delivery.Tag(),
		"requeue", requeue,
		"error", err,
	)
	if nErr := r.delivery.Nack(requeue); nErr != nil {
		r.logger.Error("nack failed", "queue", r.queue, "tag", r.delivery.Tag(), "error", nErr)
		return nErr
	}
	return nil
}

func (r *resolution) ack() error {
	if err := r.delivery.Ack(); err != nil {
		r.logger.Error("ack failed", "queue", r.queue, "tag", r.delivery.Tag(), "error", err)
		return err
	}
	return nil
}
