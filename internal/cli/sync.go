package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"wealthflow/internal/app"
	"wealthflow/internal/core"
	"wealthflow/internal/offline"
	"wealthflow/internal/state"
)

// SyncResult is the outcome of one sync command
type SyncResult struct {
	Drained       offline.DrainResult `json:"drained"`
	Accounts      int                 `json:"accounts"`
	Transactions  int                 `json:"transactions"`
	Notifications int                 `json:"new_notifications"`
	Alerts        int                 `json:"alerts"`
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes and refresh local data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := runSync(ctx, a)
				if err != nil {
					return err
				}
				return opts.formatter(cmd).Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "Synced %d accounts and %d transactions\n", res.Accounts, res.Transactions)
					if d := res.Drained; d.Resolved+d.Requeued+d.Rejected > 0 {
						fmt.Fprintf(w, "Queue: %d sent, %d still pending, %d rejected\n", d.Resolved, d.Requeued, d.Rejected)
					}
					if res.Notifications > 0 || res.Alerts > 0 {
						fmt.Fprintf(w, "%d new notifications, %d alerts\n", res.Notifications, res.Alerts)
					}
				})
			})
		},
	}
}

func runSync(ctx context.Context, a *app.App) (SyncResult, error) {
	var res SyncResult
	if a.Queue.Len() > 0 {
		drained, err := a.Queue.Drain(ctx)
		if err != nil {
			return res, WrapExitError(ExitFailure, "failed to replay queued changes", err)
		}
		res.Drained = drained
	}

	if err := a.State.SyncData(ctx); err != nil {
		return res, WrapExitError(ExitFailure, "sync failed", err)
	}
	snap := a.State.GetState()
	res.Accounts = len(snap.Accounts)
	res.Transactions = len(snap.Transactions)

	n, err := a.Notify.Refresh(ctx)
	if err != nil {
		a.Logger.WarnContext(ctx, "Notification refresh failed", "error", err)
	}
	res.Notifications = n

	alerts, err := a.Notify.CheckThresholds(ctx)
	if err != nil {
		a.Logger.WarnContext(ctx, "Threshold check incomplete", "error", err)
	}
	res.Alerts = len(alerts)
	return res, nil
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, credentials and local data counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				a.Prober.Check(ctx)
				st := a.Status(ctx)
				return opts.formatter(cmd).Success(st, func(w io.Writer) {
					fmt.Fprintf(w, "API:           %s (%s)\n", opts.Config.APIBaseURL, onlineLabel(st.Online))
					fmt.Fprintf(w, "Signed in:     %t\n", st.Authenticated)
					fmt.Fprintf(w, "Queued:        %d\n", st.Queued)
					fmt.Fprintf(w, "Accounts:      %d\n", st.Accounts)
					fmt.Fprintf(w, "Transactions:  %d\n", st.Transactions)
					fmt.Fprintf(w, "Unread:        %d\n", st.Unread)
				})
			})
		},
	}
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func newListenCommand(opts *RootOptions) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print notifications as they arrive",
		Long: `Starts the realtime channel, the notification scheduler and the health
prober, then prints every new notification until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, opts, duration)
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runListen(cmd *cobra.Command, opts *RootOptions, duration time.Duration) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	var cancel context.CancelFunc
	if duration > 0 {
		parent, cancel = context.WithTimeout(parent, duration)
	} else {
		parent, cancel = context.WithCancel(parent)
	}
	defer cancel()

	a, err := app.New(parent, opts.Config, opts.Logger, opts.AppOptions...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to initialize client", err)
	}

	out := opts.formatter(cmd)
	var mu sync.Mutex
	unsubscribe := a.State.Subscribe(func(prev, next state.Snapshot) {
		fresh := newNotifications(prev.Notifications, next.Notifications)
		if len(fresh) == 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, n := range fresh {
			printNotification(out, n)
		}
	})
	defer unsubscribe()

	timeout := opts.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, done := gracefulShutdown(parent, opts.Logger, timeout, func(ctx context.Context) {
		if err := a.Close(ctx); err != nil {
			opts.Logger.Warn("Failed to close client cleanly", "error", err)
		}
	})

	if err := a.Start(ctx, true); err != nil {
		cancel()
		<-done
		return WrapExitError(ExitFailure, "failed to start client", err)
	}

	select {
	case <-ctx.Done():
	case <-a.Channel.Done():
		if err := a.Channel.Err(); err != nil {
			opts.Logger.Warn("Realtime channel stopped", "error", err)
		}
		<-ctx.Done()
	}
	WaitForShutdown(ctx, done)
	return nil
}

func newNotifications(prev, next []core.Notification) []core.Notification {
	seen := make(map[string]bool, len(prev))
	for _, n := range prev {
		seen[n.ID] = true
	}
	var fresh []core.Notification
	for _, n := range next {
		if !seen[n.ID] {
			fresh = append(fresh, n)
		}
	}
	return fresh
}

func printNotification(out *OutputFormatter, n core.Notification) {
	if out.Format == "json" {
		b, err := json.Marshal(n)
		if err == nil {
			fmt.Fprintln(out.Writer, string(b))
		}
		return
	}
	fmt.Fprintf(out.Writer, "[%s] %s: %s\n", n.Type, n.Title, n.Message)
}
