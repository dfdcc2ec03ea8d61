package state

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wealthflow/internal/core"
)

// Totals is income and expense for a period
type Totals struct {
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
}

// FilteredTransactions applies the UI filters and sort to the current transactions
func (s *Store) FilteredTransactions() []core.Transaction {
	return FilterTransactions(s.GetState())
}

// FilterTransactions is FilteredTransactions over an arbitrary snapshot
func FilterTransactions(snap Snapshot) []core.Transaction {
	f := snap.UI.Filters
	out := make([]core.Transaction, 0, len(snap.Transactions))
	for _, t := range snap.Transactions {
		if f.AccountID != "" && t.AccountID != f.AccountID && t.ToAccountID != f.AccountID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.CategoryID != "" && t.CategoryID != f.CategoryID {
			continue
		}
		if f.StartDate != nil && f.EndDate != nil {
			if t.Date.Before(f.StartDate.Time) || t.Date.After(f.EndDate.Time) {
				continue
			}
		}
		out = append(out, t)
	}

	less := lessFor(snap.UI.Sort.Field)
	desc := snap.UI.Sort.Direction != SortAsc
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

func lessFor(field string) func(a, b core.Transaction) bool {
	switch field {
	case "amount":
		return func(a, b core.Transaction) bool { return a.Amount.LessThan(b.Amount) }
	case "description":
		return func(a, b core.Transaction) bool {
			return strings.ToLower(a.Description) < strings.ToLower(b.Description)
		}
	case "type":
		return func(a, b core.Transaction) bool { return a.Type < b.Type }
	default:
		return func(a, b core.Transaction) bool { return a.Date.Before(b.Date.Time) }
	}
}

func (s *Store) AccountByID(id string) (core.Account, bool) {
	return find(s.GetState().Accounts, id)
}

func (s *Store) CategoryByID(id string) (core.Category, bool) {
	return find(s.GetState().Categories, id)
}

// TotalBalance sums every account balance
func (s *Store) TotalBalance() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.GetState().Accounts {
		total = total.Add(a.Balance)
	}
	return total
}

// MonthlyTotals sums income and expenses dated in the calendar month of now
func (s *Store) MonthlyTotals(now time.Time) Totals {
	totals := Totals{Income: decimal.Zero, Expenses: decimal.Zero}
	for _, t := range s.GetState().Transactions {
		if t.Date.Year() != now.Year() || t.Date.Time.Month() != now.Month() {
			continue
		}
		switch t.Type {
		case core.TransactionIncome:
			totals.Income = totals.Income.Add(t.Amount)
		case core.TransactionExpense:
			totals.Expenses = totals.Expenses.Add(t.Amount)
		}
	}
	return totals
}

// UnreadNotifications counts notifications not yet read
func (s *Store) UnreadNotifications() int {
	return core.CountUnread(s.GetState().Notifications)
}
