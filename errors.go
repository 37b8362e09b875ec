package topicbus

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetNotFound is returned by PublishToQueue when no publish target has the requested name.
	ErrTargetNotFound = errors.New("topicbus: publish target not found")
	// ErrNotConnected is returned when an operation needs the channel before Connect succeeded.
	ErrNotConnected = errors.New("topicbus: not connected")
	// ErrConnecting is returned when Connect is called while another Connect is in progress.
	ErrConnecting = errors.New("topicbus: connect already in progress")
	// ErrAlreadyConnected is returned when Connect is called on a ready gateway.
	ErrAlreadyConnected = errors.New("topicbus: already connected")
	// ErrClosed is returned once the gateway (or its channel) has been closed.
	ErrClosed = errors.New("topicbus: gateway closed")
	// ErrNoConsumeTarget is returned by Consume when no consume queue is configured.
	ErrNoConsumeTarget = errors.New("topicbus: no consume target configured")
	// ErrAlreadyConsuming is returned when a handler is already registered for the consume queue.
	ErrAlreadyConsuming = errors.New("topicbus: consume handler already registered")
	// ErrNilHandler is returned by Consume when no handler is supplied.
	ErrNilHandler = errors.New("topicbus: nil handler")
	// ErrAlreadyResolved is returned when a delivery is resolved more than once.
	ErrAlreadyResolved = errors.New("topicbus: delivery already resolved")
	// ErrPublishNacked is returned by a transport when the broker negatively confirms a publish.
	ErrPublishNacked = errors.New("topicbus: publish nacked by broker")
	// ErrHandlerPanic wraps the value recovered from a panicking handler.
	ErrHandlerPanic = errors.New("topicbus: handler panicked")
)

// ConfigurationError reports an invalid or missing configuration field.
type ConfigurationError struct {
	Field  string // config key, as it appears in a config document
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("topicbus: invalid configuration: %s %s", e.Field, e.Reason)
}

// Step identifies a stage of the connect sequence.
type Step string

const (
	StepConnect  Step = "connect"
	StepChannel  Step = "channel"
	StepExchange Step = "exchange"
	StepTopology Step = "topology"
)

// ConnectionError reports the first failing step of Connect.
type ConnectionError struct {
	Step Step
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("topicbus: %s failed: %v", e.Step, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError reports a publish which could not be encoded, sent or confirmed.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("topicbus: publish to %s/%s: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// DecodeError reports an inbound delivery whose body is not UTF-8 encoded JSON.
// It never reaches a handler, the delivery is nacked without requeue.
type DecodeError struct {
	Tag uint64
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("topicbus: decode delivery %d: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
