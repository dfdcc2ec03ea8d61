package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wealthflow/internal/app"
	"wealthflow/internal/offline"
)

func newQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay changes made while offline",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued changes, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				items := a.Queue.Items()
				return opts.formatter(cmd).Success(items, func(w io.Writer) {
					writeQueueTable(w, items)
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Replay queued changes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if !a.Prober.Check(ctx) {
					return NewExitError(ExitFailure, "API is unreachable; changes stay queued")
				}
				res, err := a.Queue.Drain(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "drain interrupted", err)
				}
				left := a.Queue.Len()
				out := struct {
					offline.DrainResult
					Remaining int `json:"remaining"`
				}{res, left}
				return opts.formatter(cmd).Success(out, func(w io.Writer) {
					fmt.Fprintf(w, "%d sent, %d rejected, %d remaining\n", res.Resolved, res.Rejected, left)
				})
			})
		},
	})
	return cmd
}

func writeQueueTable(w io.Writer, items []offline.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Queue is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREQUEST\tQUEUED\tATTEMPTS\t")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s %s\t%s\t%d\t\n", it.ID, it.Descriptor.Method, it.Descriptor.Endpoint,
			it.EnqueuedAt.Local().Format("Jan 02 15:04:05"), it.Attempts)
	}
	_ = tw.Flush()
}
