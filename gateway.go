package topicbus

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"
)

// State is a position in the gateway connection state machine.
type State int32

const (
	StateDisconnected State = iota // initial state, also restored after a failed Connect.
	StateConnecting                // Connect is running.
	StateReady                     // the channel is open and the topology declared.
	StateClosed                    // Close was called or the channel was lost; terminal.
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger used by the gateway and its dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithConsumerTag overrides the generated consumer tag.
func WithConsumerTag(tag string) Option {
	return func(g *Gateway) {
		if tag != "" {
			g.consumerTag = tag
		}
	}
}

// Gateway owns the single confirm-mode channel to the broker and exposes
// publish and consume operations on it. It is safe for concurrent use.
type Gateway struct {
	cfg         Config
	dial        Dialer
	logger      *slog.Logger
	targets     map[string]PublishTarget // publish targets by name, first occurrence wins.
	consumerTag string

	mu        sync.RWMutex
	state     State
	conn      Connection
	ch        Channel
	consuming bool
	stop      context.CancelFunc // stops the active consume loop.
	wg        sync.WaitGroup     // tracks the consume loop.

	closeMu sync.Mutex
	closes []func(err error)
}

// New validates cfg and returns a disconnected Gateway which reaches the broker through dial.
// No transport call is made until Connect.
func New(cfg Config, dial Dialer, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dial == nil {
		return nil, &ConfigurationError{Field: "dialer", Reason: "is required"}
	}

	g := &Gateway{
		cfg:         cfg.withDefaults(),
		dial:        dial,
		logger:      slog.Default(),
		consumerTag: "topicbus-" + uuid.NewString(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.targets = make(map[string]PublishTarget, len(cfg.Queues.Publish))
	for _, t := range cfg.Queues.Publish {
		if _, ok := g.targets[t.Name]; ok {
			g.logger.Warn("ignoring duplicate publish target", "name", t.Name, "routingKey", t.RoutingKey)
			continue
		}
		g.targets[t.Name] = t
	}

	return g, nil
}

// State returns the current connection state.
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Connect runs the connect sequence: open the connection, create the confirm channel and
// apply the prefetch limit, declare the topic exchange, then declare the consume topology.
//
// Each step only runs once the previous one succeeded, the first failure is returned as a
// *ConnectionError naming the step. Declarations already made are left in place, the opened
// connection is closed and the gateway returns to StateDisconnected so Connect may be retried.
func (g *Gateway) Connect(ctx context.Context) error {
	if err := g.beginConnect(); err != nil {
		return err
	}

	conn, ch, err := g.connect(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil {
		if g.state == StateConnecting {
			g.state = StateDisconnected
		}
		g.logger.ErrorContext(ctx, "connect failed", "url", redact(g.cfg.URL), "error", err)
		return err
	}

	if g.state == StateClosed {
		// closed while connecting.
		logError(ctx, g.logger, conn.Close())
		return ErrClosed
	}

	g.conn, g.ch, g.state = conn, ch, StateReady
	ch.NotifyClose(g.channelClosed)

	g.logger.InfoContext(ctx, "gateway ready",
		"url", redact(g.cfg.URL),
		"exchange", g.cfg.Exchange,
		"prefetch", g.cfg.Prefetch,
	)
	return nil
}

// beginConnect moves the gateway into StateConnecting.
func (g *Gateway) beginConnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateConnecting:
		return ErrConnecting
	case StateReady:
		return ErrAlreadyConnected
	case StateClosed:
		return ErrClosed
	}

	g.state = StateConnecting
	return nil
}

// connect performs the ordered transport steps.
func (g *Gateway) connect(ctx context.Context) (Connection, Channel, error) {
	conn, err := g.dial(ctx, g.cfg.URL)
	if err != nil {
		return nil, nil, &ConnectionError{Step: StepConnect, Err: err}
	}

	ch, err := g.prepare(ctx, conn)
	if err != nil {
		logError(ctx, g.logger, conn.Close())
		return nil, nil, err
	}

	return conn, ch, nil
}

// prepare creates the channel on conn and declares the topology on it.
func (g *Gateway) prepare(ctx context.Context, conn Connection) (Channel, error) {
	ch, err := conn.ConfirmChannel(ctx)
	if err != nil {
		return nil, &ConnectionError{Step: StepChannel, Err: err}
	}

	if err := ch.QoS(ctx, g.cfg.Prefetch, 0, false); err != nil {
		return nil, &ConnectionError{Step: StepChannel, Err: err}
	}

	if err := ch.CreateExchange(ctx, g.cfg.Exchange, ExchangeTypeTopic, true, false); err != nil {
		return nil, &ConnectionError{Step: StepExchange, Err: err}
	}

	if err := setupTopology(ctx, ch, g.cfg, g.logger); err != nil {
		return nil, &ConnectionError{Step: StepTopology, Err: err}
	}

	return ch, nil
}

// channel returns the ready channel.
func (g *Gateway) channel() (Channel, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch g.state {
	case StateReady:
		return g.ch, nil
	case StateClosed:
		return nil, ErrClosed
	}
	return nil, ErrNotConnected
}

// NotifyClose registers fn to be called once the gateway channel closes.
// err is nil when the close was triggered by Close.
func (g *Gateway) NotifyClose(fn func(err error)) {
	if fn == nil {
		return
	}

	g.closeMu.Lock()
	defer g.closeMu.Unlock()
	g.closes = append(g.closes, fn)
}

// channelClosed is registered on the channel once the gateway is ready.
func (g *Gateway) channelClosed(err error) {
	g.mu.Lock()
	g.state = StateClosed
	stop := g.stop
	g.mu.Unlock()

	if stop != nil {
		stop()
	}

	if err != nil {
		g.logger.Error("channel closed by broker", "exchange", g.cfg.Exchange, "error", err)
	}

	g.closeMu.Lock()
	defer g.closeMu.Unlock()
	for _, fn := range g.closes {
		fn(err)
	}
}

// Close stops the consume loop, waiting for the delivery being dispatched, then closes
// the channel and the connection. Closing a closed gateway is a no-op.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.state == StateClosed && g.conn == nil {
		g.mu.Unlock()
		return nil
	}

	g.state = StateClosed
	stop := g.stop
	conn, ch := g.conn, g.ch
	g.conn, g.ch = nil, nil
	g.mu.Unlock()

	if stop != nil {
		stop()
	}
	g.wg.Wait()

	if conn == nil {
		return nil
	}

	return errors.Join(ch.Close(), conn.Close())
}

// redact hides the password of a broker url for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// logError helper function to log an error.
func logError(ctx context.Context, logger *slog.Logger, err error) {
	if err == nil {
		return
	}
	logger.ErrorContext(ctx, err.Error())
}
