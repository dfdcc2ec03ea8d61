package state

import (
	"time"

	"wealthflow/internal/core"
)

const maxUIErrors = 5

// Snapshot is one immutable view of the application state. Slices are never
// modified in place after a snapshot is published; treat them as read-only.
type Snapshot struct {
	Version       uint64              `json:"-"`
	User          *core.User          `json:"user"`
	Accounts      []core.Account      `json:"accounts"`
	Transactions  []core.Transaction  `json:"transactions"`
	Categories    []core.Category     `json:"categories"`
	Budgets       []core.Budget       `json:"budgets"`
	Goals         []core.Goal         `json:"goals"`
	Notifications []core.Notification `json:"notifications"`
	Dashboard     core.Dashboard      `json:"dashboard"`
	UI            UI                  `json:"ui"`
}

type UI struct {
	Loading    bool      `json:"-"`
	Errors     []UIError `json:"errors"`
	ActiveView string    `json:"active_view"`
	Filters    Filters   `json:"filters"`
	Sort       Sort      `json:"sort"`
	Toasts     []Toast   `json:"-"`
}

type UIError struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

// Filters narrows FilteredTransactions. Empty fields match everything.
type Filters struct {
	AccountID  string               `json:"account_id,omitempty"`
	Type       core.TransactionType `json:"type,omitempty"`
	CategoryID string               `json:"category_id,omitempty"`
	StartDate  *core.Date           `json:"start_date,omitempty"`
	EndDate    *core.Date           `json:"end_date,omitempty"`
}

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type Toast struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	Level   string    `json:"level"`
	Created time.Time `json:"created"`
}

// Patch is a shallow merge: nil fields leave the snapshot untouched
type Patch struct {
	User          *core.User
	Accounts      *[]core.Account
	Transactions  *[]core.Transaction
	Categories    *[]core.Category
	Budgets       *[]core.Budget
	Goals         *[]core.Goal
	Notifications *[]core.Notification
	Dashboard     *core.Dashboard
	UI            *UI
}

func (p Patch) apply(s Snapshot) Snapshot {
	if p.User != nil {
		u := *p.User
		s.User = &u
	}
	if p.Accounts != nil {
		s.Accounts = dedupe(*p.Accounts)
	}
	if p.Transactions != nil {
		s.Transactions = dedupe(*p.Transactions)
	}
	if p.Categories != nil {
		s.Categories = dedupe(*p.Categories)
	}
	if p.Budgets != nil {
		s.Budgets = dedupe(*p.Budgets)
	}
	if p.Goals != nil {
		s.Goals = dedupe(*p.Goals)
	}
	if p.Notifications != nil {
		s.Notifications = dedupe(*p.Notifications)
	}
	if p.Dashboard != nil {
		s.Dashboard = *p.Dashboard
	}
	if p.UI != nil {
		s.UI = *p.UI
	}
	return s
}

// Initial is the state before anything is loaded
func Initial() Snapshot {
	return Snapshot{
		Accounts:      []core.Account{},
		Transactions:  []core.Transaction{},
		Categories:    []core.Category{},
		Budgets:       []core.Budget{},
		Goals:         []core.Goal{},
		Notifications: []core.Notification{},
		UI: UI{
			Errors:     []UIError{},
			ActiveView: "dashboard",
			Sort:       Sort{Field: "date", Direction: SortDesc},
		},
	}
}

// upsert replaces the item with a matching id or appends it
func upsert[T core.Entity](items []T, item T) []T {
	out := make([]T, len(items), len(items)+1)
	copy(out, items)
	for i := range out {
		if out[i].EntityID() == item.EntityID() {
			out[i] = item
			return out
		}
	}
	return append(out, item)
}

func replace[T core.Entity](items []T, item T) ([]T, bool) {
	for i := range items {
		if items[i].EntityID() == item.EntityID() {
			out := append([]T(nil), items...)
			out[i] = item
			return out, true
		}
	}
	return items, false
}

func remove[T core.Entity](items []T, id string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if it.EntityID() != id {
			out = append(out, it)
		}
	}
	return out
}

// dedupe keeps the first position of each id with the last value seen for it
func dedupe[T core.Entity](items []T) []T {
	out := make([]T, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := index[it.EntityID()]; ok {
			out[i] = it
			continue
		}
		index[it.EntityID()] = len(out)
		out = append(out, it)
	}
	return out
}

func find[T core.Entity](items []T, id string) (T, bool) {
	for _, it := range items {
		if it.EntityID() == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}
