package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/glimte/msgbridge"
	"github.com/glimte/msgbridge/bridge"
	"github.com/glimte/msgbridge/internal/config"
	"github.com/glimte/msgbridge/internal/reliability"
	"github.com/glimte/msgbridge/messaging"
	"github.com/glimte/msgbridge/monitor"
	"github.com/glimte/msgbridge/schema"
)

// globalOptions holds the persistent flags
type globalOptions struct {
	configPath string
	url        string
	timeout    time.Duration
	verbose    bool
}

// app is the state shared by every command: resolved config and logger
type app struct {
	config    config.Config
	logger    *slog.Logger
	recorder  *monitor.Recorder
	validator *schema.Validator
}

func newApp(opts *globalOptions, logOutput io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.url != "" {
		cfg.Transport.URL = opts.url
	}
	if opts.timeout > 0 {
		cfg.Bridge.Timeout = opts.timeout
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := newLogger(cfg.Log, logOutput)
	if err != nil {
		return nil, err
	}

	return &app{
		config:    cfg,
		logger:    logger,
		recorder:  monitor.NewRecorder(monitor.DefaultActivitySize),
		validator: schema.NewValidator(),
	}, nil
}

// newLogger builds the slog logger described by cfg
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// bridgeOptions turns config into bridge options. Handler invocations go
// through recovery, logging, the activity recorder and payload validation.
func (a *app) bridgeOptions() []bridge.Option {
	cfg := a.config

	dispatcher := messaging.NewDispatcher(
		messaging.WithDispatcherLogger(a.logger),
		messaging.WithMiddleware(
			messaging.RecoverMiddleware(),
			messaging.LoggingMiddleware(a.logger),
			a.recorder.Middleware(),
			a.validator.Middleware(),
		),
	)

	opts := []bridge.Option{
		bridge.WithTimeout(cfg.Bridge.Timeout),
		bridge.WithNamePrefix(cfg.Bridge.NamePrefix),
		bridge.WithMaxPendingCalls(cfg.Bridge.MaxPendingCalls),
		bridge.WithDispatcher(dispatcher),
	}

	if cfg.Retry.MaxRetries > 0 {
		opts = append(opts, bridge.WithRetryPolicy(reliability.NewExponentialBackoff(
			cfg.Retry.InitialInterval,
			cfg.Retry.MaxInterval,
			2.0,
			cfg.Retry.MaxRetries,
		)))
	}

	if cfg.Retry.FailureThreshold > 0 {
		opts = append(opts, bridge.WithCircuitBreaker(reliability.NewCircuitBreaker(
			reliability.WithFailureThreshold(cfg.Retry.FailureThreshold),
			reliability.WithTimeout(cfg.Retry.BreakerTimeout),
			reliability.WithBreakerLogger(a.logger),
		)))
	}

	return opts
}

// clientOptions turns config into client options
func (a *app) clientOptions() []msgbridge.ClientOption {
	cfg := a.config
	return []msgbridge.ClientOption{
		msgbridge.WithLogger(a.logger),
		msgbridge.WithBridgeOptions(a.bridgeOptions()...),
		msgbridge.WithProtocolConstraint(cfg.Bridge.ProtocolConstraint),
		msgbridge.WithQueues(cfg.Transport.Outbound, cfg.Transport.Inbound),
		msgbridge.WithDurableQueues(cfg.Transport.Durable),
	}
}

// connect opens a client on the configured transport
func (a *app) connect() (*msgbridge.Client, error) {
	client, err := msgbridge.NewClient(a.config.Transport.URL, a.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", redactURL(a.config.Transport.URL), err)
	}
	return client, nil
}

// isStdio reports whether the configured transport uses standard streams
func (a *app) isStdio() bool {
	return strings.HasPrefix(a.config.Transport.URL, "stdio:")
}

// logOutput is where logs go: always stderr, stdout may carry messages
func logOutput() io.Writer {
	return os.Stderr
}
