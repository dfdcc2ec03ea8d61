package app

import (
	"context"
	"errors"
	"fmt"

	"wealthflow/internal/core"
	"wealthflow/internal/notify"
	"wealthflow/internal/realtime"
)

// eventHandlers maps realtime events onto state and notifications
func (a *App) eventHandlers() realtime.Handlers {
	return realtime.Handlers{
		BalanceUpdate: func(u realtime.BalanceUpdate) {
			acct, ok := a.State.AccountByID(u.AccountID)
			if !ok {
				acct = core.Account{ID: u.AccountID}
			}
			acct.Balance = u.Balance
			if u.Currency != "" {
				acct.Currency = u.Currency
			}
			a.State.UpdateAccount(acct)
			a.Gateway.ClearCacheFor("/api/accounts")
		},
		Transfer: func(t realtime.TransferSuccess) {
			ctx := a.context()
			a.Gateway.ClearCacheFor("/api/accounts")
			n := notify.TransferNotification(a.accountName(t.FromAccountID), a.accountName(t.ToAccountID), t.Amount)
			if _, err := a.Notify.CreateNotification(ctx, n); err != nil {
				a.Logger.WarnContext(ctx, "Failed to create transfer notification", "error", err)
			}
		},
		Expense: func(tx core.Transaction) {
			ctx := a.context()
			a.State.AddTransaction(tx)
			a.Gateway.ClearCacheFor("/api/transactions")
			if _, err := a.Notify.NotifyTransaction(ctx, tx); err != nil {
				a.Logger.DebugContext(ctx, "Transaction not notified", "transaction_id", tx.ID, "error", err)
			}
		},
		Notification: func(n core.Notification) {
			ctx := a.context()
			if _, err := a.Notify.Receive(ctx, n); err != nil {
				a.Logger.WarnContext(ctx, "Dropped pushed notification", "notification_id", n.ID, "error", err)
			}
		},
	}
}

func (a *App) accountName(id string) string {
	if acct, ok := a.State.AccountByID(id); ok && acct.Name != "" {
		return acct.Name
	}
	return id
}

// Start runs background work: cache sweeps, the health prober, the
// notification scheduler and, when realtime is true, the socket channel.
// A failed first sync or socket connect is logged and the app keeps running
// on cached state.
func (a *App) Start(ctx context.Context, realtimeOn bool) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	a.started = true
	a.runCtx = ctx
	a.mu.Unlock()

	a.Caches.StartCleanup(a.Config.CacheSweep)
	a.Prober.Start(ctx)

	if a.Notify.Settings().Desktop {
		a.Notify.RequestPermission(ctx)
	}
	if err := a.Notify.Load(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Failed to load notifications", "error", err)
	}
	if err := a.State.SyncData(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Initial sync failed; using cached state", "error", err)
	}

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notification scheduler: %w", err)
	}

	if realtimeOn {
		if err := a.Channel.Start(ctx); err != nil {
			a.Logger.WarnContext(ctx, "Realtime channel unavailable", "error", err)
		}
	}

	a.Logger.InfoContext(ctx, "WealthFlow client started",
		"api", a.Config.APIBaseURL,
		"realtime", realtimeOn,
		"queued", a.Queue.Len())
	return nil
}

// Close stops background work and releases the local store
func (a *App) Close(ctx context.Context) error {
	var errs []error

	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()

	a.Channel.Close()
	if started {
		if err := a.Scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		a.Prober.Stop()
		a.Caches.Stop()
	}
	a.Queue.Close()

	if err := a.cleanup(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Status is a point-in-time summary for the CLI
type Status struct {
	Online        bool
	Authenticated bool
	Realtime      string
	Queued        int
	Accounts      int
	Transactions  int
	Unread        int
	CachedEntries int
}

func (a *App) Status(ctx context.Context) Status {
	snap := a.State.GetState()
	return Status{
		Online:        a.Monitor.Online(),
		Authenticated: a.Tokens.HasToken(ctx),
		Realtime:      a.Channel.State().String(),
		Queued:        a.Queue.Len(),
		Accounts:      len(snap.Accounts),
		Transactions:  len(snap.Transactions),
		Unread:        a.Notify.UnreadCount(),
		CachedEntries: a.Gateway.CacheStats().Size,
	}
}
