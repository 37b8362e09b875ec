package rabbitmq

import (
	"context"
	"io"
	"log/slog"
)

// closer represents any stream which can be closed
// this is either a channel or the overall connection.
type closer interface {
	io.Closer
	notifier

	IsClosed() bool // IsClosed determines if a channel or connection is closed.
}

// isClosed helper function to check whether a connection or channel is closed.
func isClosed(ch closer) bool {
	return ch == nil || ch.IsClosed()
}

// logError helper function to log an error.
func logError(ctx context.Context, logger *slog.Logger, err error) {
	if err == nil {
		return
	}

	logger.ErrorContext(ctx, err.Error())
}

// closeListeners holds the handlers registered through NotifyClose, they are
// triggered at most once.
type closeListeners struct {
	fired bool
	fns   []func(err error)
}

// add registers fn, returning false when the close already happened.
func (l *closeListeners) add(fn func(err error)) bool {
	if l.fired {
		return false
	}
	l.fns = append(l.fns, fn)
	return true
}

// fire returns the registered handlers the first time it is called.
func (l *closeListeners) fire() []func(err error) {
	if l.fired {
		return nil
	}
	l.fired = true
	fns := l.fns
	l.fns = nil
	return fns
}
