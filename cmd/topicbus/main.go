package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jacklaaa89/topicbus"
	"github.com/jacklaaa89/topicbus/rabbitmq"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
)

// flags shared by every command.
type flags struct {
	config   string
	url      string
	exchange string
	queue    string
	keys     []string
	retries  uint64
	verbose  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	var f flags

	rootCmd := &cobra.Command{
		Use:           "topicbus",
		Short:         "Publish and consume JSON messages on a RabbitMQ topic exchange",
		Version:       fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&f.config, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&f.url, "url", "u", "", "RabbitMQ connection URL, overrides the config file")
	rootCmd.PersistentFlags().StringVarP(&f.exchange, "exchange", "e", "", "Topic exchange, overrides the config file")
	rootCmd.PersistentFlags().Uint64Var(&f.retries, "retries", 5, "Connect retries after the first attempt before giving up")
	rootCmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")

	// Publish command
	var key, data string
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message with a routing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			g, err := connect(ctx, f)
			if err != nil {
				return err
			}
			defer g.Close()

			return g.Publish(ctx, key, data, topicbus.PublishOptions{DeliveryMode: topicbus.Persistent})
		},
	}
	publishCmd.Flags().StringVarP(&key, "key", "k", "", "Routing key")
	publishCmd.Flags().StringVarP(&data, "data", "d", "", "Message body, sent as is")
	_ = publishCmd.MarkFlagRequired("key")

	// Publish to a named target
	var name string
	publishToCmd := &cobra.Command{
		Use:   "publish-to",
		Short: "Publish a message to a publish target of the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			g, err := connect(ctx, f)
			if err != nil {
				return err
			}
			defer g.Close()

			return g.PublishToQueue(ctx, name, data)
		},
	}
	publishToCmd.Flags().StringVarP(&name, "name", "n", "", "Publish target name")
	publishToCmd.Flags().StringVarP(&data, "data", "d", "", "Message body, sent as is")
	_ = publishToCmd.MarkFlagRequired("name")

	// Consume command
	consumeCmd := &cobra.Command{
		Use:   "consume",
		Short: "Print and ack every message of the consume queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			g, err := connect(ctx, f)
			if err != nil {
				return err
			}
			defer g.Close()

			lost := make(chan error, 1)
			g.NotifyClose(func(err error) { lost <- err })

			err = g.Consume(ctx, func(ctx context.Context, msg topicbus.Message, resolve topicbus.ResolveFunc) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", msg.RoutingKey, msg.Body)
				_ = resolve(nil, false)
			})
			if err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return nil
			case err := <-lost:
				return err
			}
		},
	}
	consumeCmd.Flags().StringVarP(&f.queue, "queue", "q", "", "Consume queue, overrides the config file")
	consumeCmd.Flags().StringSliceVarP(&f.keys, "binding-key", "b", nil, "Binding key of the consume queue, may be repeated")

	rootCmd.AddCommand(publishCmd, publishToCmd, consumeCmd)
	return rootCmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig reads the config file, if any, and applies the command line overrides.
// Without a config file the flags alone have to describe the gateway.
func loadConfig(f flags) (topicbus.Config, error) {
	var cfg topicbus.Config
	if f.config != "" {
		var err error
		if cfg, err = topicbus.LoadConfig(f.config); err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
	}
	f.overrides(&cfg)
	return cfg, cfg.Validate()
}

// overrides applies the non-empty command line flags to cfg.
func (f flags) overrides(cfg *topicbus.Config) {
	if f.url != "" {
		cfg.URL = f.url
	}
	if f.exchange != "" {
		cfg.Exchange = f.exchange
	}
	if f.queue != "" {
		cfg.Queues.Consume = &topicbus.ConsumeTarget{Name: f.queue, BindingKeys: f.keys}
	}
}

// connect builds a gateway and connects it, retrying with an exponential backoff
// while the broker is unreachable.
func connect(ctx context.Context, f flags) (*topicbus.Gateway, error) {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}

	g, err := topicbus.New(cfg, rabbitmq.NewDialer(rabbitmq.WithLogger(logger)), topicbus.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 10 * time.Second

	err = retryConnect(ctx, g.Connect, backoff.WithMaxRetries(b, f.retries), logger)
	if err != nil {
		return nil, err
	}

	return g, nil
}

// retryConnect calls connect until it succeeds, b gives up or ctx is done. Only an
// unreachable broker is retried, any later connect step failing is final.
func retryConnect(ctx context.Context, connect func(ctx context.Context) error, b backoff.BackOff, logger *slog.Logger) error {
	return backoff.RetryNotify(func() error {
		err := connect(ctx)
		var cErr *topicbus.ConnectionError
		if err != nil && (!errors.As(err, &cErr) || cErr.Step != topicbus.StepConnect) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warn("broker unreachable, retrying", "error", err, "in", next)
	})
}
