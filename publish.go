package topicbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jacklaaa89/topicbus/internal/safejson"
)

// PublishToQueue publishes message to the exchange using the routing key of the publish
// target called name. It returns an error wrapping ErrTargetNotFound when no target has that name.
//
// The call blocks until the broker confirms the message, see Publish.
func (g *Gateway) PublishToQueue(ctx context.Context, name string, message interface{}) error {
	target, ok := g.targets[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, name)
	}
	return g.Publish(ctx, target.RoutingKey, message, PublishOptions{})
}

// Publish publishes message to the exchange using routingKey, handing opts to the transport
// untouched. It blocks until the broker confirms the message; a failed or negative confirmation
// is returned as a *PublishError.
//
// Strings and byte slices are published as they are, any other value is encoded as JSON.
// References back to a value which is already being encoded are written as "[Circular]"
// rather than failing.
func (g *Gateway) Publish(ctx context.Context, routingKey string, message interface{}, opts PublishOptions) error {
	ch, err := g.channel()
	if err != nil {
		return err
	}

	body, err := encode(message)
	if err != nil {
		return &PublishError{Exchange: g.cfg.Exchange, RoutingKey: routingKey, Err: err}
	}

	if err := ch.Publish(ctx, g.cfg.Exchange, routingKey, body, opts); err != nil {
		return &PublishError{Exchange: g.cfg.Exchange, RoutingKey: routingKey, Err: err}
	}

	g.logger.DebugContext(ctx, "published",
		"exchange", g.cfg.Exchange,
		"routingKey", routingKey,
		"bytes", len(body),
	)
	return nil
}

// encode converts an outbound message into its wire body.
func encode(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case string:
		return []byte(m), nil
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	}
	return safejson.Marshal(message)
}
