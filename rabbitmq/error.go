package rabbitmq

import (
	"github.com/rabbitmq/amqp091-go"

	"github.com/jacklaaa89/topicbus"
)

// notifier helper interface which wraps notification methods
// which are usually shared by different types.
type notifier interface {
	// NotifyClose the internal amqp091 function defined on both
	// channels and connections which set up notifications for errors.
	NotifyClose(rcv chan *amqp091.Error) chan *amqp091.Error
}

// amqpError represents a wrapped amqp091.Error
type amqpError struct {
	err *amqp091.Error
}

var _ topicbus.Error = (*amqpError)(nil)

func (a *amqpError) Error() string {
	return a.err.Error()
}

// Unwrap exposes the original amqp091.Error.
func (a *amqpError) Unwrap() error {
	return a.err
}

// Code returns the AMQP error code.
func (a *amqpError) Code() int {
	return a.err.Code
}

// Reason returns the error description
func (a *amqpError) Reason() string {
	return a.err.Reason
}

// Recover whether the error is recoverable.
func (a *amqpError) Recover() bool {
	return a.err.Recover
}

// FromServer whether the close originated from the client or server.
func (a *amqpError) FromServer() bool {
	return a.err.Server
}

// handleNotifyClose waits for the close notification of n in the background and hands it to fn.
// fn receives nil on a graceful close.
func handleNotifyClose(n notifier, fn func(err error)) {
	// buffered as amqp091 blocks on sending the close error to an unread receiver.
	rcv := n.NotifyClose(make(chan *amqp091.Error, 1))

	go func() {
		e, ok := <-rcv
		if !ok || e == nil {
			fn(nil)
			return
		}
		fn(&amqpError{e})
	}()
}
