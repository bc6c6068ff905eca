package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glimte/msgbridge"
	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/health"
	"github.com/glimte/msgbridge/messaging"
	"github.com/spf13/cobra"
)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		delay      time.Duration
		healthAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer calls with the demo handlers until interrupted",
		Long: `Registers the demo handlers (say, delay, greet, send, echo) plus the ready
handshake and answers calls until interrupted. With the stdio transport the
command also ends when standard input closes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, logOutput())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := a.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := newDemoHandlers(delay, a.logger).register(client.Bridge()); err != nil {
				return fmt.Errorf("failed to register handlers: %w", err)
			}
			if err := demoSchemas(a.validator); err != nil {
				return err
			}

			if healthAddr != "" {
				server := &http.Server{
					Addr:              healthAddr,
					Handler:           health.NewHandler(newHealthRegistry(client, false), 5*time.Second),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("health endpoint failed", "error", err)
					}
				}()
				defer server.Close()
			}

			a.logger.Info("serving", "transport", redactURL(a.config.Transport.URL))

			select {
			case <-ctx.Done():
			case <-channelDone(client.Channel()):
				a.logger.Info("input closed")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 2*time.Second, "how long delay and greet take to answer")
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "serve health as JSON on this address, e.g. :8081")

	return cmd
}

// channelDone returns a channel closed when a stream transport reaches the
// end of its input, or nil for transports without one.
func channelDone(ch messaging.Channel) <-chan struct{} {
	if s, ok := ch.(interface{ Done() <-chan struct{} }); ok {
		return s.Done()
	}
	return nil
}

func newCallCommand(opts *globalOptions) *cobra.Command {
	var (
		dump      bool
		handshake bool
		wait      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call NAME [PAYLOAD]",
		Short: "Call NAME and print the response",
		Long: `Sends a call and prints the response payload as JSON. PAYLOAD is parsed as
JSON when valid and sent as a string otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, logOutput())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := a.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			if handshake {
				if err := waitForPeer(ctx, client, wait); err != nil {
					return err
				}
			}

			name := args[0]
			result, err := client.Call(ctx, name, parsePayload(args[1:]))
			if err != nil {
				return explainCallError(ctx, client, name, err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), formatValue(result, dump))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dump, "dump", false, "print the response as a Go literal instead of JSON")
	cmd.Flags().BoolVar(&handshake, "handshake", false, "wait for the peer's ready handshake first")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long --handshake waits for the peer")

	return cmd
}

func waitForPeer(ctx context.Context, client *msgbridge.Client, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	_, err := client.WaitForPeer(ctx, time.Second)
	return err
}

// explainCallError adds a "did you mean" hint when the peer has no handler
// for name, using the handler list from its handshake.
func explainCallError(ctx context.Context, client *msgbridge.Client, name string, err error) error {
	if !errors.Is(err, contracts.ErrUnregisteredEvent) {
		return fmt.Errorf("call %q failed: %w", name, err)
	}

	hintCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	info, hsErr := client.Handshake(hintCtx)
	if hsErr == nil {
		if suggestion, ok := messaging.Closest(name, info.Handlers); ok {
			return fmt.Errorf("call %q failed: %w (did you mean %q?)", name, err, suggestion)
		}
	}
	return fmt.Errorf("call %q failed: %w", name, err)
}

func newNotifyCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "notify NAME [PAYLOAD]",
		Short: "Send NAME without waiting for a response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, logOutput())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := a.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Notify(ctx, args[0], parsePayload(args[1:])); err != nil {
				return err
			}

			a.logger.Debug("notification sent", "name", args[0])
			return nil
		},
	}
}

func newHandshakeCommand(opts *globalOptions) *cobra.Command {
	var (
		dump bool
		wait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "handshake",
		Short: "Ask the peer to describe itself",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, logOutput())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := a.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancelWait := context.WithTimeout(ctx, wait)
			defer cancelWait()

			info, err := client.WaitForPeer(ctx, time.Second)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), formatValue(info, dump))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dump, "dump", false, "print the peer info as a Go literal instead of JSON")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the peer")

	return cmd
}

func newHealthCommand(opts *globalOptions) *cobra.Command {
	var skipPeer bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the transport, the bridge and the peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, logOutput())
			if err != nil {
				return err
			}

			client, err := a.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), a.config.Bridge.Timeout)
			defer cancel()

			result := newHealthRegistry(client, !skipPeer).Check(ctx)
			printHealth(cmd.OutOrStdout(), result)

			if result.Status == health.StatusUnhealthy {
				return errors.New("unhealthy")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipPeer, "skip-peer", false, "do not handshake with the peer")

	return cmd
}

// newHealthRegistry registers the checks that apply to client
func newHealthRegistry(client *msgbridge.Client, checkPeer bool) *health.Registry {
	registry := health.NewRegistry()
	registry.SetMetadata("protocol", contracts.ProtocolVersion)
	registry.SetMetadata("version", version)

	registry.Register(health.NewBridgeChecker(client.Bridge()))
	registry.Register(health.NewRuntimeChecker(500, 1000))

	if conn, ok := client.Channel().(health.Connectable); ok {
		registry.Register(health.NewConnectionChecker("transport", conn))
	}
	if checkPeer {
		registry.Register(health.NewPeerChecker(client))
	}

	return registry
}
