package topicbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

// recorder keeps the order transport calls were made in.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type mockChannelHandlers struct {
	QoS            func(count int) error
	CreateExchange func(name string, typ ExchangeType) error
	CreateQueue    func(name string) error
	BindQueue      func(queue, exchange, key string) error
	Publish        func(exchange, key string, body []byte, opts PublishOptions) error
	Consume        func(ctx context.Context, queue, tag string) (<-chan Delivery, CancelFunc, error)
	Close          func() error
}

// newDefaultChannelHandlers generates a default set of handlers.
func newDefaultChannelHandlers() mockChannelHandlers {
	return mockChannelHandlers{
		QoS:            func(int) error { return nil },
		CreateExchange: func(string, ExchangeType) error { return nil },
		CreateQueue:    func(string) error { return nil },
		BindQueue:      func(_, _, _ string) error { return nil },
		Publish:        func(_, _ string, _ []byte, _ PublishOptions) error { return nil },
		Consume: func(context.Context, string, string) (<-chan Delivery, CancelFunc, error) {
			return make(chan Delivery), func() {}, nil
		},
		Close: func() error { return nil },
	}
}

type mockChannel struct {
	h   mockChannelHandlers
	rec *recorder

	mu     sync.Mutex
	closes []func(err error)
	closed bool
}

func (m *mockChannel) QoS(_ context.Context, count, _ int, _ bool) error {
	m.rec.record("qos")
	return m.h.QoS(count)
}
func (m *mockChannel) CreateQueue(_ context.Context, name string, _, _, _ bool) (Queue, error) {
	m.rec.record("queue:" + name)
	if err := m.h.CreateQueue(name); err != nil {
		return nil, err
	}
	return &mockQueue{name: name, ch: m}, nil
}
func (m *mockChannel) BindQueue(_ context.Context, queue, exchange, key string) error {
	m.rec.record("bind:" + key)
	return m.h.BindQueue(queue, exchange, key)
}
func (m *mockChannel) CreateExchange(_ context.Context, name string, typ ExchangeType, _, _ bool) error {
	m.rec.record("exchange:" + name)
	return m.h.CreateExchange(name, typ)
}
func (m *mockChannel) Publish(_ context.Context, exchange, key string, body []byte, opts PublishOptions) error {
	m.rec.record("publish:" + key)
	return m.h.Publish(exchange, key, body, opts)
}
func (m *mockChannel) Consume(ctx context.Context, queue, tag string, _ bool) (<-chan Delivery, CancelFunc, error) {
	m.rec.record("consume:" + queue)
	return m.h.Consume(ctx, queue, tag)
}
func (m *mockChannel) NotifyClose(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes = append(m.closes, fn)
}
func (m *mockChannel) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
func (m *mockChannel) Close() error {
	m.rec.record("channel.close")
	m.brokerClose(nil)
	return m.h.Close()
}

// brokerClose simulates the channel closing, notifying all listeners with err.
func (m *mockChannel) brokerClose(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	fns := m.closes
	m.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

type mockQueue struct {
	name string
	ch   *mockChannel
}

func (q *mockQueue) Name() string { return q.name }
func (q *mockQueue) Bind(ctx context.Context, exchange, key string) error {
	return q.ch.BindQueue(ctx, q.name, exchange, key)
}

type mockConnectionHandlers struct {
	ConfirmChannel func() error
	Close          func() error
}

// newDefaultConnectionHandlers generates a default set of handlers.
func newDefaultConnectionHandlers() mockConnectionHandlers {
	return mockConnectionHandlers{
		ConfirmChannel: func() error { return nil },
		Close:          func() error { return nil },
	}
}

type mockConnection struct {
	h   mockConnectionHandlers
	ch  *mockChannel
	rec *recorder
}

func (m *mockConnection) ConfirmChannel(context.Context) (Channel, error) {
	m.rec.record("channel")
	if err := m.h.ConfirmChannel(); err != nil {
		return nil, err
	}
	return m.ch, nil
}
func (m *mockConnection) NotifyClose(func(err error)) {}
func (m *mockConnection) IsClosed() bool           { return false }
func (m *mockConnection) Close() error {
	m.rec.record("connection.close")
	return m.h.Close()
}

// transport bundles the doubles a gateway talks to in tests.
type transport struct {
	rec  *recorder
	conn *mockConnection
	ch   *mockChannel
	dial func(url string) error
}

func newTransport(ch mockChannelHandlers, conn mockConnectionHandlers) *transport {
	rec := &recorder{}
	mch := &mockChannel{h: ch, rec: rec}
	return &transport{
		rec:  rec,
		ch:   mch,
		conn: &mockConnection{h: conn, ch: mch, rec: rec},
		dial: func(string) error { return nil },
	}
}

// Dialer returns the dialer handing out the mock connection.
func (tr *transport) Dialer() Dialer {
	return func(_ context.Context, url string) (Connection, error) {
		tr.rec.record("dial:" + url)
		if err := tr.dial(url); err != nil {
			return nil, err
		}
		return tr.conn, nil
	}
}

// mockDelivery records how a delivery was resolved.
type mockDelivery struct {
	mock.Mock

	tag      uint64
	body     []byte
	resolved chan struct{}
}

func newMockDelivery(tag uint64, body string) *mockDelivery {
	return &mockDelivery{tag: tag, body: []byte(body), resolved: make(chan struct{}, 2)}
}

func (m *mockDelivery) Context() context.Context { return context.Background() }
func (m *mockDelivery) Tag() uint64              { return m.tag }
func (m *mockDelivery) RoutingKey() string       { return "orders.created" }
func (m *mockDelivery) Body() []byte             { return m.body }
func (m *mockDelivery) Redelivered() bool        { return false }
func (m *mockDelivery) Ack() error {
	defer func() { m.resolved <- struct{}{} }()
	return m.Called().Error(0)
}
func (m *mockDelivery) Nack(requeue bool) error {
	defer func() { m.resolved <- struct{}{} }()
	return m.Called(requeue).Error(0)
}

// waitResolved fails the test unless d is acked or nacked within a second.
func waitResolved(t *testing.T, d *mockDelivery) {
	t.Helper()
	select {
	case <-d.resolved:
	case <-time.After(time.Second):
		t.Fatalf("delivery %d was never resolved", d.tag)
	}
}
