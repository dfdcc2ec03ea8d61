package api

import (
	"context"

	"wealthflow/internal/core"
	"wealthflow/internal/state"
)

// Source adapts the client to the state store's sync interface
func (c *Client) Source() state.Source {
	return source{c}
}

type source struct{ c *Client }

func (s source) Accounts(ctx context.Context) ([]core.Account, error) {
	return s.c.Accounts.List(ctx)
}

func (s source) RecentTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	return s.c.Transactions.Recent(ctx, limit)
}

func (s source) Categories(ctx context.Context) ([]core.Category, error) {
	return s.c.Categories.List(ctx)
}

func (s source) Budgets(ctx context.Context) ([]core.Budget, error) {
	return s.c.Budgets.List(ctx)
}

func (s source) Goals(ctx context.Context) ([]core.Goal, error) {
	return s.c.Goals.List(ctx)
}

func (s source) UnreadNotifications(ctx context.Context) ([]core.Notification, error) {
	return s.c.Notifications.Unread(ctx)
}

func (s source) Dashboard(ctx context.Context) (core.Dashboard, error) {
	return s.c.Dashboard.Summary(ctx)
}
