package topicbus

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// setupTopology makes ch ready for traffic once the exchange exists.
//
// The publish side and the consume side are independent units of work and run
// concurrently, the first failure is returned once both have finished.
func setupTopology(ctx context.Context, ch Channel, cfg Config, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	if len(cfg.Queues.Publish) > 0 {
		g.Go(func() error {
			return setupPublishTargets(ctx, cfg, logger)
		})
	}

	if target, ok := cfg.consumeQueue(); ok {
		g.Go(func() error {
			return setupConsumeTarget(ctx, ch, cfg.Exchange, target, logger)
		})
	}

	return g.Wait()
}

// setupPublishTargets needs no broker calls, routing keys are resolved at publish time
// and pure publishers do not own a queue.
func setupPublishTargets(ctx context.Context, cfg Config, logger *slog.Logger) error {
	for _, t := range cfg.Queues.Publish {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.DebugContext(ctx, "publish target ready",
			"name", t.Name,
			"exchange", cfg.Exchange,
			"routingKey", t.RoutingKey,
		)
	}
	return nil
}

// setupConsumeTarget declares the durable consume queue and binds it to the exchange
// once per binding key. Without binding keys the queue is bound using its own name.
func setupConsumeTarget(ctx context.Context, ch Channel, exchange string, target ConsumeTarget, logger *slog.Logger) error {
	q, err := ch.CreateQueue(ctx, target.Name, true, false, false)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", target.Name, err)
	}

	keys := target.BindingKeys
	if len(keys) == 0 {
		keys = []string{q.Name()}
	}

	for _, key := range keys {
		if err := q.Bind(ctx, exchange, key); err != nil {
			return fmt.Errorf("bind queue %s to %s with %q: %w", q.Name(), exchange, key, err)
		}
	}

	logger.DebugContext(ctx, "consume target ready",
		"queue", q.Name(),
		"exchange", exchange,
		"bindingKeys", keys,
	)
	return nil
}
