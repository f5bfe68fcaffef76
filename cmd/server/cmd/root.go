package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	logLevel  string
	logFormat string
}

// exitError lets a command pick the process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	serveCmd := newServeCommand(opts)

	root := &cobra.Command{
		Use:   "server",
		Short: "Eventboard server - accounts, tokens and request gating for the events API",
		Long: `Eventboard server fronts the events, organizers and auction REST API.

It issues and rotates JWT access/refresh pairs, keeps a ledger of every issued
token, and gates each request against a declarative route policy before it
reaches a handler.

Running the binary without a subcommand starts the HTTP server.`,
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (json, console) (default: json)")
	root.Flags().AddFlagSet(serveCmd.Flags())

	root.AddCommand(
		serveCmd,
		newMigrateCommand(opts),
		newUserCommand(opts),
		newTokensCommand(opts),
		newVersionCommand(),
		newHealthcheckCommand(),
	)
	return root
}

// Execute is called by main.main.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}
