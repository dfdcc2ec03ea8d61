package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wealthflow/internal/app"
	"wealthflow/internal/core"
	"wealthflow/internal/notify"
)

func newNotificationsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List and manage notifications",
	}
	cmd.AddCommand(newNotificationsListCommand(opts))
	cmd.AddCommand(newNotificationsReadCommand(opts))
	cmd.AddCommand(newNotificationsClearCommand(opts))
	return cmd
}

func newNotificationsListCommand(opts *RootOptions) *cobra.Command {
	var unreadOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Notify.Load(ctx); err != nil {
					a.Logger.WarnContext(ctx, "Showing local notifications only", "error", err)
				}
				list := a.Notify.List()
				if unreadOnly {
					list = filterUnread(list)
				}
				return opts.formatter(cmd).Success(list, func(w io.Writer) {
					writeNotificationTable(w, list)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only show unread notifications")
	return cmd
}

func filterUnread(list []core.Notification) []core.Notification {
	out := make([]core.Notification, 0, len(list))
	for _, n := range list {
		if !n.IsRead {
			out = append(out, n)
		}
	}
	return out
}

func writeNotificationTable(w io.Writer, list []core.Notification) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No notifications")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tWHEN\tTITLE\t")
	for _, n := range list {
		marker := ""
		if !n.IsRead {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t\n", marker, n.ID, n.Type, n.Timestamp.Local().Format("Jan 02 15:04"), n.Title)
	}
	_ = tw.Flush()
}

func newNotificationsReadCommand(opts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark one or all notifications as read",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return NewExitError(ExitCommandError, "give a notification id or --all, not both")
			}
			if !all && len(args) != 1 {
				return NewExitError(ExitCommandError, "a notification id is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Notify.Load(ctx); err != nil {
					a.Logger.WarnContext(ctx, "Using local notifications only", "error", err)
				}
				if all {
					a.Notify.MarkAllAsRead(ctx)
				} else if err := a.Notify.MarkAsRead(ctx, args[0]); err != nil {
					if errors.Is(err, notify.ErrNotFound) {
						return WrapExitError(ExitCommandError, "unknown notification "+args[0], err)
					}
					return WrapExitError(ExitFailure, "failed to mark notification read", err)
				}
				unread := a.Notify.UnreadCount()
				return opts.formatter(cmd).Success(map[string]int{"unread": unread}, func(w io.Writer) {
					fmt.Fprintf(w, "%d unread\n", unread)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "mark every notification as read")
	return cmd
}

func newNotificationsClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every notification locally and on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Notify.Load(ctx); err != nil {
					a.Logger.WarnContext(ctx, "Using local notifications only", "error", err)
				}
				n := len(a.Notify.List())
				a.Notify.ClearAll(ctx)
				return opts.formatter(cmd).Success(map[string]int{"cleared": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Cleared %d notifications\n", n)
				})
			})
		},
	}
}
