package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"wealthflow/internal/core"
	"wealthflow/internal/log"
)

// RecentTransactionLimit is how many transactions a full sync fetches
const RecentTransactionLimit = 50

var ErrNoSource = errors.New("no data source configured")

// Source fetches the collections a sync refreshes
type Source interface {
	Accounts(ctx context.Context) ([]core.Account, error)
	RecentTransactions(ctx context.Context, limit int) ([]core.Transaction, error)
	Categories(ctx context.Context) ([]core.Category, error)
	Budgets(ctx context.Context) ([]core.Budget, error)
	Goals(ctx context.Context) ([]core.Goal, error)
	UnreadNotifications(ctx context.Context) ([]core.Notification, error)
	Dashboard(ctx context.Context) (core.Dashboard, error)
}

// SyncData refreshes every collection in parallel. Each fetch that succeeds is
// applied even when others fail; failures are joined into the returned error
// and surfaced as one UI error.
func (s *Store) SyncData(ctx context.Context) error {
	if s.source == nil {
		return ErrNoSource
	}
	start := time.Now()
	s.SetLoading(true)
	defer s.SetLoading(false)

	var (
		patch Patch
		errs  = make([]error, 7)
		g     errgroup.Group
	)
	fetch := func(i int, name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	fetch(0, "accounts", func() error {
		v, err := s.source.Accounts(ctx)
		if err == nil {
			patch.Accounts = &v
		}
		return err
	})
	fetch(1, "transactions", func() error {
		v, err := s.source.RecentTransactions(ctx, RecentTransactionLimit)
		if err == nil {
			patch.Transactions = &v
		}
		return err
	})
	fetch(2, "categories", func() error {
		v, err := s.source.Categories(ctx)
		if err == nil {
			patch.Categories = &v
		}
		return err
	})
	fetch(3, "budgets", func() error {
		v, err := s.source.Budgets(ctx)
		if err == nil {
			patch.Budgets = &v
		}
		return err
	})
	fetch(4, "goals", func() error {
		v, err := s.source.Goals(ctx)
		if err == nil {
			patch.Goals = &v
		}
		return err
	})
	fetch(5, "notifications", func() error {
		v, err := s.source.UnreadNotifications(ctx)
		if err == nil {
			patch.Notifications = &v
		}
		return err
	})
	fetch(6, "dashboard", func() error {
		v, err := s.source.Dashboard(ctx)
		if err == nil {
			patch.Dashboard = &v
		}
		return err
	})
	_ = g.Wait()

	s.Merge(patch)

	err := errors.Join(errs...)
	if err != nil {
		s.AddError("Failed to sync data", err.Error())
		s.logger.WarnContext(ctx, "Data sync incomplete",
			log.FieldOperation, log.OpSync,
			log.FieldError, err.Error(),
			log.FieldDuration, time.Since(start).Milliseconds())
		return err
	}
	s.logger.InfoContext(ctx, "Data synced",
		log.FieldOperation, log.OpSync,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// SyncNotifications refreshes only the unread notifications
func (s *Store) SyncNotifications(ctx context.Context) error {
	if s.source == nil {
		return ErrNoSource
	}
	ns, err := s.source.UnreadNotifications(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Notifications sync failed", log.FieldError, err.Error())
		return fmt.Errorf("notifications: %w", err)
	}
	s.SetNotifications(ns)
	return nil
}
