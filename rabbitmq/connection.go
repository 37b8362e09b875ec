package rabbitmq

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"github.com/jacklaaa89/topicbus"
)

// helper types exposed from the underlined SDK package.

type (
	Config         = amqp091.Config
	Authentication = amqp091.Authentication
	PlainAuth      = amqp091.PlainAuth
)

// amqp091ConnectionDialer a function which takes no arguments and returns a new amqp091 connection.
type amqp091ConnectionDialer = func() (amqp091Connection, error)

// Option configures the connections created by a dialer.
type Option func(*options)

type options struct {
	config *Config
	logger *slog.Logger
}

// WithConfig dials using c, for example to supply authentication or a vhost.
func WithConfig(c Config) Option { //nolint // config has to be non-pointer to conform to amqp091.
	return func(o *options) {
		o.config = &c
	}
}

// WithLogger sets the logger used by connections and channels.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// connection represents an amqp091.Connection which implements our generic implementation.
type connection struct {
	mu     sync.RWMutex // variable guard.
	omitMu sync.Mutex   // mutex for events.

	logger *slog.Logger
	closed bool           // whether Close has been called.
	closes closeListeners // handlers registered through NotifyClose.

	Connection amqp091Connection // the connection.
}

// NewDialer returns a topicbus.Dialer connecting to rabbitmq brokers with the supplied options.
func NewDialer(opts ...Option) topicbus.Dialer {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, addr string) (topicbus.Connection, error) {
		return wrapDial(ctx, o.logger, func() (amqp091Connection, error) {
			if o.config != nil {
				return dialConfig(addr, *o.config)
			}
			return dial(addr)
		})
	}
}

// DialConfig returns a dialer which connects to a rabbitmq broker using an amqp:// url while also
// supplying Config to define authentication etc.
func DialConfig(c Config) topicbus.Dialer { //nolint // config has to be non-pointer to conform to amqp091.
	return NewDialer(WithConfig(c))
}

// Dial attempts to connect to a rabbitmq broker using an amqp:// url.
func Dial(ctx context.Context, addr string) (topicbus.Connection, error) {
	return NewDialer()(ctx, addr)
}

// wrapDial helper function to wrap an amqp091.Connection as our generic interface implementation.
func wrapDial(ctx context.Context, logger *slog.Logger, dial amqp091ConnectionDialer) (topicbus.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := dial()
	if err != nil {
		return nil, err
	}

	c := &connection{Connection: conn, logger: logger}
	handleNotifyClose(conn, c.onClose)
	return c, nil
}

// ConfirmChannel opens a new channel on the connection and puts it into confirm mode.
func (c *connection) ConfirmChannel(ctx context.Context) (topicbus.Channel, error) {
	if c.IsClosed() {
		return nil, amqp091.ErrClosed
	}

	c.mu.RLock()
	ch, err := rawChannel(c.Connection)
	c.mu.RUnlock()
	if err != nil {
		logError(ctx, c.logger, err)
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		logError(ctx, c.logger, err)
		logError(ctx, c.logger, ch.Close())
		return nil, err
	}

	wc := &channel{Channel: ch, logger: c.logger}
	wc.init()
	return wc, nil
}

// NotifyClose registers a handler to be triggered on a close.
// fn is triggered straight away when the connection is already closed.
func (c *connection) NotifyClose(fn func(err error)) {
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

// onClose marks the connection closed and omits the close event to all handlers.
func (c *connection) onClose(err error) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("connection closed", "error", err)
	}

	c.omitMu.Lock()
	fns := c.closes.fire()
	c.omitMu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

// Close wraps the original close function.
func (c *connection) Close() error {
	if c.IsClosed() {
		return nil // already closed.
	}

	c.mu.Lock()
	c.closed = true
	err := c.Connection.Close()
	c.mu.Unlock()

	go c.onClose(nil)
	return err
}

// IsClosed wraps the original IsClosed function.
func (c *connection) IsClosed() bool {
	if c == nil {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}

	return isClosed(c.Connection)
}
