package topicbus

import (
	"context"
	"io"
)

// Dialer represents a function which opens a transport connection to the broker at url.
type Dialer func(ctx context.Context, url string) (Connection, error)

// Error represents an error reported by the broker transport.
type Error interface {
	error

	// Code returns the constant reply code defined by the AMQP protocol
	Code() int
	// Reason returns the description of the error
	Reason() string
	// Recover returns true when this error can be recovered by retrying later or with different parameters
	Recover() bool
	// FromServer returns true when initiated from the server, false when from the client library
	FromServer() bool
}

// Notifier an interface for types which omit close events.
type Notifier interface {
	// NotifyClose triggers the supplied function once when the stream closes.
	// err is nil on a graceful close, i.e. one triggered by calling Close,
	// otherwise it is the Error which caused the close.
	NotifyClose(fn func(err error))
}

// Connection represents a single broker connection.
//
// Only the operations required to bring a Gateway to a ready state are exposed, a Connection
// is only ever used to create the one confirm-mode Channel the Gateway publishes and consumes on.
type Connection interface {
	io.Closer
	Notifier

	// ConfirmChannel creates a new channel and puts it into confirm mode, meaning
	// the broker acknowledges every message published on it.
	ConfirmChannel(ctx context.Context) (Channel, error)
	// IsClosed determines if the connection is closed.
	IsClosed() bool
}
