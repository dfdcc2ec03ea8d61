package state

import (
	"github.com/google/uuid"

	"wealthflow/internal/core"
)

func (s *Store) SetUser(u *core.User) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		if u == nil {
			st.User = nil
			return st
		}
		c := *u
		st.User = &c
		return st
	})
}

// UpdateUserProfile applies fn to a copy of the signed-in user. Without a user it does nothing.
func (s *Store) UpdateUserProfile(fn func(*core.User)) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		if st.User == nil {
			return st
		}
		c := *st.User
		fn(&c)
		st.User = &c
		return st
	})
}

func (s *Store) SetAccounts(accounts []core.Account) Snapshot {
	return s.Merge(Patch{Accounts: &accounts})
}

// UpdateAccount replaces the account with the same id or appends it
func (s *Store) UpdateAccount(a core.Account) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.Accounts = upsert(st.Accounts, a)
		return st
	})
}

func (s *Store) RemoveAccount(id string) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.Accounts = remove(st.Accounts, id)
		return st
	})
}

func (s *Store) SetTransactions(txs []core.Transaction) Snapshot {
	return s.Merge(Patch{Transactions: &txs})
}

// AddTransaction puts a new transaction first. A known id is replaced where it is.
func (s *Store) AddTransaction(t core.Transaction) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		if out, ok := replace(st.Transactions, t); ok {
			st.Transactions = out
			return st
		}
		out := make([]core.Transaction, 0, len(st.Transactions)+1)
		out = append(out, t)
		st.Transactions = append(out, st.Transactions...)
		return st
	})
}

// UpdateTransaction replaces a known transaction and ignores unknown ids
func (s *Store) UpdateTransaction(t core.Transaction) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.Transactions, _ = replace(st.Transactions, t)
		return st
	})
}

func (s *Store) RemoveTransaction(id string) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.Transactions = remove(st.Transactions, id)
		return st
	})
}

func (s *Store) SetCategories(cs []core.Category) Snapshot {
	return s.Merge(Patch{Categories: &cs})
}

func (s *Store) SetBudgets(bs []core.Budget) Snapshot {
	return s.Merge(Patch{Budgets: &bs})
}

func (s *Store) UpsertBudget(b core.Budget) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.Budgets = upsert(st.Budgets, b)
		return st
	})
}

func (s *Store) SetGoals(gs []core.Goal) Snapshot {
	return s.Merge(Patch{Goals: &gs})
}

func (s *Store) UpsertGoal(g core.Goal) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.Goals = upsert(st.Goals, g)
		return st
	})
}

func (s *Store) SetNotifications(ns []core.Notification) Snapshot {
	return s.Merge(Patch{Notifications: &ns})
}

// UpsertNotification puts a new notification first. A known id is replaced where it is.
func (s *Store) UpsertNotification(n core.Notification) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		if out, ok := replace(st.Notifications, n); ok {
			st.Notifications = out
			return st
		}
		out := make([]core.Notification, 0, len(st.Notifications)+1)
		out = append(out, n)
		st.Notifications = append(out, st.Notifications...)
		return st
	})
}

func (s *Store) RemoveNotification(id string) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.Notifications = remove(st.Notifications, id)
		return st
	})
}

func (s *Store) MarkNotificationAsRead(id string) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		out := make([]core.Notification, len(st.Notifications))
		for i, n := range st.Notifications {
			if n.ID == id {
				n.IsRead = true
			}
			out[i] = n
		}
		st.Notifications = out
		return st
	})
}

func (s *Store) MarkAllNotificationsAsRead() Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		out := make([]core.Notification, len(st.Notifications))
		for i, n := range st.Notifications {
			n.IsRead = true
			out[i] = n
		}
		st.Notifications = out
		return st
	})
}

func (s *Store) SetDashboard(d core.Dashboard) Snapshot {
	return s.Merge(Patch{Dashboard: &d})
}

func (s *Store) SetLoading(loading bool) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.UI.Loading = loading
		return st
	})
}

// AddError records a UI error, newest first, keeping the last five
func (s *Store) AddError(message, details string) (string, Snapshot) {
	e := UIError{ID: uuid.NewString(), Message: message, Details: details, At: s.now().UTC()}
	snap := s.Update(func(st Snapshot) Snapshot {
		errs := make([]UIError, 0, maxUIErrors)
		errs = append(errs, e)
		for _, old := range st.UI.Errors {
			if len(errs) == maxUIErrors {
				break
			}
			errs = append(errs, old)
		}
		st.UI.Errors = errs
		return st
	})
	return e.ID, snap
}

func (s *Store) ClearError(id string) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		errs := make([]UIError, 0, len(st.UI.Errors))
		for _, e := range st.UI.Errors {
			if e.ID != id {
				errs = append(errs, e)
			}
		}
		st.UI.Errors = errs
		return st
	})
}

func (s *Store) ClearAllErrors() Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.UI.Errors = []UIError{}
		return st
	})
}

func (s *Store) SetActiveView(view string) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.UI.ActiveView = view
		return st
	})
}

// SetFilters merges the non-empty fields of f into the active filters
func (s *Store) SetFilters(f Filters) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		cur := st.UI.Filters
		if f.AccountID != "" {
			cur.AccountID = f.AccountID
		}
		if f.Type != "" {
			cur.Type = f.Type
		}
		if f.CategoryID != "" {
			cur.CategoryID = f.CategoryID
		}
		if f.StartDate != nil {
			d := *f.StartDate
			cur.StartDate = &d
		}
		if f.EndDate != nil {
			d := *f.EndDate
			cur.EndDate = &d
		}
		st.UI.Filters = cur
		return st
	})
}

func (s *Store) ClearFilters() Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		st.UI.Filters = Filters{}
		return st
	})
}

// SetSort orders FilteredTransactions. An empty direction means descending.
func (s *Store) SetSort(field, direction string) Snapshot {
	if direction != SortAsc {
		direction = SortDesc
	}
	return s.Update(func(st Snapshot) Snapshot {
		st.UI.Sort = Sort{Field: field, Direction: direction}
		return st
	})
}

func (s *Store) AddToast(message, level string) (string, Snapshot) {
	t := Toast{ID: uuid.NewString(), Message: message, Level: level, Created: s.now().UTC()}
	snap := s.Update(func(st Snapshot) Snapshot {
		st.UI.Toasts = append(append([]Toast(nil), st.UI.Toasts...), t)
		return st
	})
	return t.ID, snap
}

func (s *Store) DismissToast(id string) Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		out := make([]Toast, 0, len(st.UI.Toasts))
		for _, t := range st.UI.Toasts {
			if t.ID != id {
				out = append(out, t)
			}
		}
		st.UI.Toasts = out
		return st
	})
}

// Reset drops the user and every domain collection, keeping UI preferences
func (s *Store) Reset() Snapshot {
	return s.Update(func(st Snapshot) Snapshot {
		fresh := Initial()
		fresh.UI = st.UI
		fresh.UI.Loading = false
		return fresh
	})
}
