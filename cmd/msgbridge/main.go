package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "msgbridge",
		Short: "Call and serve named requests over a message bridge",
		Long: `msgbridge speaks the iframe message bridge protocol over RabbitMQ, NATS or
standard streams. It can answer calls, issue calls and notifications, check
a peer's health and watch a running bridge in a terminal dashboard.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.config/msgbridge/msgbridge.toml)")
	flags.StringVarP(&opts.url, "url", "u", "", "transport URL (amqp://, nats://, stdio:)")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "call timeout (overrides config)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newCallCommand(opts),
		newNotifyCommand(opts),
		newHandshakeCommand(opts),
		newHealthCommand(opts),
		newMonitorCommand(opts),
	)

	return rootCmd
}
