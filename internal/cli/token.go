package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"wealthflow/internal/app"
)

func newTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored API token",
	}

	var skipVerify bool
	set := &cobra.Command{
		Use:   "set <token>",
		Short: "Store a token after checking it with the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if !skipVerify {
					ok, err := a.API.ValidateToken(ctx, args[0])
					if err != nil {
						return WrapExitError(ExitFailure, "could not verify token", err)
					}
					if !ok {
						return NewExitError(ExitCommandError, "token rejected by server")
					}
				}
				if err := a.Tokens.Set(ctx, args[0]); err != nil {
					return WrapExitError(ExitFailure, "failed to store token", err)
				}
				return opts.formatter(cmd).Success(map[string]bool{"stored": true}, func(w io.Writer) {
					fmt.Fprintln(w, "Token stored")
				})
			})
		},
	}
	set.Flags().BoolVar(&skipVerify, "no-verify", false, "store without asking the server")
	cmd.AddCommand(set)
	cmd.AddCommand(newTokenLoginCommand(opts))

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Tokens.Clear(ctx); err != nil {
					return WrapExitError(ExitFailure, "failed to clear token", err)
				}
				a.State.SetUser(nil)
				return opts.formatter(cmd).Success(map[string]bool{"cleared": true}, func(w io.Writer) {
					fmt.Fprintln(w, "Token cleared")
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Ask the server whether the stored token is still valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				tok, err := a.Tokens.Token(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read token", err)
				}
				if tok == "" {
					return NewExitError(ExitCommandError, "no token stored; run 'wealthflow token set'")
				}
				ok, err := a.API.ValidateToken(ctx, tok)
				if err != nil {
					return WrapExitError(ExitFailure, "could not verify token", err)
				}
				if !ok {
					return NewExitError(ExitFailure, "stored token is no longer valid")
				}
				return opts.formatter(cmd).Success(map[string]bool{"valid": true}, func(w io.Writer) {
					fmt.Fprintln(w, "Token is valid")
				})
			})
		},
	})
	return cmd
}
