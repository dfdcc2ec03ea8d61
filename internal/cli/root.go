package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"wealthflow/internal/app"
	"wealthflow/internal/config"
	"wealthflow/internal/log"
)

// RootOptions holds global flags and the resolved runtime pieces
type RootOptions struct {
	Verbose bool
	Format  string
	EnvFile string

	// Config and Logger are loaded by the root pre-run when nil
	Config *config.Config
	Logger *log.Logger

	// AppOptions are passed to every app built by a command
	AppOptions []app.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the wealthflow CLI
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wealthflow",
		Short: "WealthFlow personal finance client",
		Long: `Command-line client for the WealthFlow API.

Keeps a local copy of your accounts, transactions and notifications,
queues changes made while offline, and listens for live updates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "load environment from this file instead of .env")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newListenCommand(opts))
	cmd.AddCommand(newNotificationsCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))
	cmd.AddCommand(newSettingsCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

// Execute runs the command tree and reports failures in the chosen format.
// It returns the process exit code.
func Execute(ctx context.Context, cmd *cobra.Command) int {
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		format, _ := cmd.PersistentFlags().GetString("format")
		(&OutputFormatter{Format: format, Writer: cmd.ErrOrStderr()}).Failure(err)
	}
	return GetExitCode(err)
}

func (o *RootOptions) resolve(logOut io.Writer) error {
	if o.Config == nil {
		if o.EnvFile != "" {
			LoadEnvFile(o.EnvFile)
		} else {
			LoadEnvFile()
		}
		cfg := config.Load()
		if err := cfg.ValidateClient(); err != nil {
			return WrapExitError(ExitCommandError, "configuration validation failed", err)
		}
		o.Config = cfg
	}
	if o.Logger == nil {
		o.Logger = SetupLogger(o.Config, logOut, o.Verbose)
	}
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// withApp builds the app, runs fn, and closes the app
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, o.Config, o.Logger, o.AppOptions...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to initialize client", err)
	}
	runErr := fn(ctx, a)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		o.Logger.Warn("Failed to close client cleanly", "error", err)
	}
	return runErr
}
