package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealthflow/internal/core"
	"wealthflow/internal/storage"
)

func newStore(t *testing.T, kv storage.KV, opts ...Option) *Store {
	t.Helper()
	s, err := New(context.Background(), kv, opts...)
	require.NoError(t, err)
	return s
}

func acct(id, name, balance string) core.Account {
	return core.Account{ID: id, Name: name, Balance: decimal.RequireFromString(balance)}
}

func tx(id, account string, typ core.TransactionType, amount string, date core.Date) core.Transaction {
	return core.Transaction{ID: id, AccountID: account, Type: typ, Amount: decimal.RequireFromString(amount), Date: date, Description: id}
}

func TestStore_UpdateNeverMutatesPrevious(t *testing.T) {
	s := newStore(t, nil)
	s.SetAccounts([]core.Account{acct("a1", "Checking", "10")})
	before := s.GetState()

	s.UpdateAccount(acct("a1", "Renamed", "20"))
	s.UpdateAccount(acct("a2", "Savings", "5"))

	assert.Equal(t, "Checking", before.Accounts[0].Name)
	assert.Len(t, before.Accounts, 1)

	after := s.GetState()
	require.Len(t, after.Accounts, 2)
	assert.Equal(t, "Renamed", after.Accounts[0].Name)
	assert.Greater(t, after.Version, before.Version)
}

func TestStore_ListenersSeePrevAndNextInOrder(t *testing.T) {
	s := newStore(t, nil)
	var order, views []string
	s.Subscribe(func(prev, next Snapshot) {
		order = append(order, "first")
		views = append(views, prev.UI.ActiveView+">"+next.UI.ActiveView)
	})
	s.Subscribe(func(prev, next Snapshot) { panic("boom") })
	unsub := s.Subscribe(func(prev, next Snapshot) { order = append(order, "third") })

	s.SetActiveView("budgets")
	assert.Equal(t, []string{"first", "third"}, order, "a panicking listener does not stop the others")

	unsub()
	unsub()
	order = nil
	s.SetActiveView("goals")
	assert.Equal(t, []string{"first"}, order)
	assert.Equal(t, []string{"dashboard>budgets", "budgets>goals"}, views)
}

func TestStore_ListenerMayUpdate(t *testing.T) {
	s := newStore(t, nil)
	var calls int
	s.Subscribe(func(prev, next Snapshot) {
		calls++
		if next.UI.ActiveView == "accounts" && !next.UI.Loading {
			s.SetLoading(true)
		}
	})
	s.SetActiveView("accounts")
	assert.True(t, s.GetState().UI.Loading)
	assert.Equal(t, 2, calls, "the nested update notifies once more")
}

func TestStore_UpsertKeepsIDsUnique(t *testing.T) {
	s := newStore(t, nil)
	s.SetBudgets([]core.Budget{{ID: "b1", Name: "Food"}, {ID: "b1", Name: "Food v2"}, {ID: "b2", Name: "Rent"}})
	st := s.GetState()
	require.Len(t, st.Budgets, 2)
	assert.Equal(t, "Food v2", st.Budgets[0].Name)

	s.UpsertBudget(core.Budget{ID: "b2", Name: "Rent v2"})
	s.UpsertBudget(core.Budget{ID: "b3", Name: "Fun"})
	s.UpsertGoal(core.Goal{ID: "g1", Name: "Car"})
	s.UpsertGoal(core.Goal{ID: "g1", Name: "Bike"})

	st = s.GetState()
	assert.Len(t, st.Budgets, 3)
	assert.Equal(t, "Rent v2", st.Budgets[1].Name)
	require.Len(t, st.Goals, 1)
	assert.Equal(t, "Bike", st.Goals[0].Name)
}

func TestStore_TransactionsHelpers(t *testing.T) {
	s := newStore(t, nil)
	d := core.NewDate(2024, 5, 1)
	s.SetTransactions([]core.Transaction{tx("t1", "a1", core.TransactionExpense, "5", d)})

	s.AddTransaction(tx("t2", "a1", core.TransactionIncome, "50", d))
	st := s.GetState()
	require.Len(t, st.Transactions, 2)
	assert.Equal(t, "t2", st.Transactions[0].ID, "new transactions go first")

	updated := tx("t1", "a1", core.TransactionExpense, "7", d)
	s.AddTransaction(updated)
	st = s.GetState()
	require.Len(t, st.Transactions, 2)
	assert.True(t, st.Transactions[1].Amount.Equal(decimal.NewFromInt(7)))

	s.UpdateTransaction(tx("missing", "a1", core.TransactionExpense, "1", d))
	assert.Len(t, s.GetState().Transactions, 2)

	s.RemoveTransaction("t2")
	st = s.GetState()
	require.Len(t, st.Transactions, 1)
	assert.Equal(t, "t1", st.Transactions[0].ID)

	s.RemoveAccount("none")
}

func TestStore_NotificationsHelpers(t *testing.T) {
	s := newStore(t, nil)
	s.SetNotifications([]core.Notification{{ID: "n1"}, {ID: "n2"}})
	s.MarkNotificationAsRead("n1")
	assert.Equal(t, 1, s.UnreadNotifications())

	s.UpsertNotification(core.Notification{ID: "n3"})
	assert.Equal(t, "n3", s.GetState().Notifications[0].ID)

	s.MarkAllNotificationsAsRead()
	assert.Equal(t, 0, s.UnreadNotifications())

	s.RemoveNotification("n2")
	assert.Len(t, s.GetState().Notifications, 2)
}

func TestStore_ErrorsKeepLastFive(t *testing.T) {
	s := newStore(t, nil)
	var last string
	for i := 0; i < 7; i++ {
		last, _ = s.AddError("err", "")
	}
	errs := s.GetState().UI.Errors
	require.Len(t, errs, 5)
	assert.Equal(t, last, errs[0].ID, "newest first")

	s.ClearError(last)
	assert.Len(t, s.GetState().UI.Errors, 4)
	s.ClearAllErrors()
	assert.Empty(t, s.GetState().UI.Errors)
}

func TestStore_UserProfile(t *testing.T) {
	s := newStore(t, nil)
	s.UpdateUserProfile(func(u *core.User) { u.Name = "ignored" })
	assert.Nil(t, s.GetState().User)

	u := &core.User{ID: "u1", Email: "a@b.c"}
	s.SetUser(u)
	u.Email = "changed"
	assert.Equal(t, "a@b.c", s.GetState().User.Email, "store keeps its own copy")

	s.UpdateUserProfile(func(u *core.User) { u.Name = "Ada" })
	assert.Equal(t, "Ada", s.GetState().User.Name)
}

func TestStore_ToastsAndReset(t *testing.T) {
	s := newStore(t, nil)
	id, _ := s.AddToast("saved", "success")
	assert.Len(t, s.GetState().UI.Toasts, 1)
	s.DismissToast(id)
	assert.Empty(t, s.GetState().UI.Toasts)

	s.SetUser(&core.User{ID: "u1"})
	s.SetAccounts([]core.Account{acct("a1", "x", "1")})
	s.SetActiveView("goals")
	s.Reset()

	st := s.GetState()
	assert.Nil(t, st.User)
	assert.Empty(t, st.Accounts)
	assert.Equal(t, "goals", st.UI.ActiveView, "UI preferences survive logout")
}

func TestStore_PersistsOnlySelectedKeys(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := newStore(t, kv)
	s.SetAccounts([]core.Account{acct("a1", "Checking", "10")})
	s.SetActiveView("budgets")
	s.SetSort("amount", SortAsc)
	s.SetLoading(true)

	restored := newStore(t, kv)
	st := restored.GetState()
	assert.Equal(t, "budgets", st.UI.ActiveView)
	assert.Equal(t, Sort{Field: "amount", Direction: SortAsc}, st.UI.Sort)
	assert.False(t, st.UI.Loading)
	assert.Empty(t, st.Accounts, "money data is always re-synced")

	require.NoError(t, restored.ClearPersisted(context.Background()))
	fresh := newStore(t, kv)
	assert.Equal(t, "dashboard", fresh.GetState().UI.ActiveView)
}

func TestStore_CustomPersistKeys(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := newStore(t, kv, WithPersistKeys("ui", "user"))
	s.SetUser(&core.User{ID: "u1", Email: "a@b.c"})

	restored := newStore(t, kv, WithPersistKeys("ui", "user"))
	require.NotNil(t, restored.GetState().User)
	assert.Equal(t, "u1", restored.GetState().User.ID)

	uiOnly := newStore(t, kv)
	assert.Nil(t, uiOnly.GetState().User)
}

func TestStore_CorruptPersistedStateIgnored(t *testing.T) {
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Put(context.Background(), storage.KeyState, []byte("{not json")))
	s := newStore(t, kv)
	assert.Equal(t, "dashboard", s.GetState().UI.ActiveView)
}

func TestFilteredTransactions(t *testing.T) {
	s := newStore(t, nil)
	may1, may10, jun1 := core.NewDate(2024, 5, 1), core.NewDate(2024, 5, 10), core.NewDate(2024, 6, 1)
	transfer := tx("t4", "a2", core.TransactionTransfer, "30", may10)
	transfer.ToAccountID = "a1"
	s.SetTransactions([]core.Transaction{
		tx("t1", "a1", core.TransactionExpense, "20", may1),
		tx("t2", "a1", core.TransactionIncome, "100", jun1),
		tx("t3", "a2", core.TransactionExpense, "5", may10),
		transfer,
	})

	ids := func(ts []core.Transaction) []string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = t.ID
		}
		return out
	}

	assert.Equal(t, []string{"t2", "t3", "t4", "t1"}, ids(s.FilteredTransactions()), "default is date descending")

	s.SetFilters(Filters{AccountID: "a1"})
	assert.ElementsMatch(t, []string{"t1", "t2", "t4"}, ids(s.FilteredTransactions()))

	s.SetFilters(Filters{Type: core.TransactionExpense})
	assert.Equal(t, []string{"t1"}, ids(s.FilteredTransactions()), "filters merge")

	s.ClearFilters()
	start, end := core.NewDate(2024, 5, 1), core.NewDate(2024, 5, 31)
	s.SetFilters(Filters{StartDate: &start, EndDate: &end})
	s.SetSort("amount", SortAsc)
	assert.Equal(t, []string{"t3", "t1", "t4"}, ids(s.FilteredTransactions()))
}

func TestQueries(t *testing.T) {
	s := newStore(t, nil)
	s.SetAccounts([]core.Account{acct("a1", "A", "100.50"), acct("a2", "B", "-20.25")})
	s.SetCategories([]core.Category{{ID: "c1", Name: "Food"}})
	s.SetTransactions([]core.Transaction{
		tx("t1", "a1", core.TransactionIncome, "1000", core.NewDate(2024, 5, 2)),
		tx("t2", "a1", core.TransactionExpense, "30", core.NewDate(2024, 5, 20)),
		tx("t3", "a1", core.TransactionExpense, "999", core.NewDate(2024, 4, 30)),
		tx("t4", "a1", core.TransactionTransfer, "50", core.NewDate(2024, 5, 3)),
	})

	assert.True(t, s.TotalBalance().Equal(decimal.RequireFromString("80.25")))

	totals := s.MonthlyTotals(time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, totals.Income.Equal(decimal.NewFromInt(1000)))
	assert.True(t, totals.Expenses.Equal(decimal.NewFromInt(30)))

	a, ok := s.AccountByID("a2")
	assert.True(t, ok)
	assert.Equal(t, "B", a.Name)
	_, ok = s.AccountByID("zzz")
	assert.False(t, ok)
	c, ok := s.CategoryByID("c1")
	assert.True(t, ok)
	assert.Equal(t, "Food", c.Name)
}

type fakeSource struct {
	fail map[string]error
}

func (f fakeSource) err(name string) error { return f.fail[name] }

func (f fakeSource) Accounts(context.Context) ([]core.Account, error) {
	return []core.Account{acct("a1", "A", "1")}, f.err("accounts")
}
func (f fakeSource) RecentTransactions(_ context.Context, limit int) ([]core.Transaction, error) {
	if limit != RecentTransactionLimit {
		return nil, errors.New("unexpected limit")
	}
	return []core.Transaction{tx("t1", "a1", core.TransactionExpense, "1", core.NewDate(2024, 1, 1))}, f.err("transactions")
}
func (f fakeSource) Categories(context.Context) ([]core.Category, error) {
	return []core.Category{{ID: "c1"}}, f.err("categories")
}
func (f fakeSource) Budgets(context.Context) ([]core.Budget, error) {
	return []core.Budget{{ID: "b1"}}, f.err("budgets")
}
func (f fakeSource) Goals(context.Context) ([]core.Goal, error) {
	return []core.Goal{{ID: "g1"}}, f.err("goals")
}
func (f fakeSource) UnreadNotifications(context.Context) ([]core.Notification, error) {
	return []core.Notification{{ID: "n1"}}, f.err("notifications")
}
func (f fakeSource) Dashboard(context.Context) (core.Dashboard, error) {
	return core.Dashboard{Insights: []string{"spend less"}}, f.err("dashboard")
}

func TestSyncData_AppliesAll(t *testing.T) {
	s := newStore(t, nil, WithSource(fakeSource{}))
	var sawLoading bool
	s.Subscribe(func(prev, next Snapshot) {
		if next.UI.Loading {
			sawLoading = true
		}
	})

	require.NoError(t, s.SyncData(context.Background()))
	st := s.GetState()
	assert.True(t, sawLoading)
	assert.False(t, st.UI.Loading)
	assert.Len(t, st.Accounts, 1)
	assert.Len(t, st.Transactions, 1)
	assert.Len(t, st.Categories, 1)
	assert.Len(t, st.Budgets, 1)
	assert.Len(t, st.Goals, 1)
	assert.Len(t, st.Notifications, 1)
	assert.Equal(t, []string{"spend less"}, st.Dashboard.Insights)
	assert.Empty(t, st.UI.Errors)
}

func TestSyncData_IsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	s := newStore(t, nil, WithSource(fakeSource{fail: map[string]error{"budgets": boom, "goals": boom}}))

	err := s.SyncData(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "budgets")
	assert.Contains(t, err.Error(), "goals")

	st := s.GetState()
	assert.Len(t, st.Accounts, 1, "successful fetches still land")
	assert.Empty(t, st.Budgets)
	require.Len(t, st.UI.Errors, 1, "one aggregate error")
	assert.Equal(t, "Failed to sync data", st.UI.Errors[0].Message)
	assert.False(t, st.UI.Loading)
}

func TestSyncData_NoSource(t *testing.T) {
	s := newStore(t, nil)
	assert.ErrorIs(t, s.SyncData(context.Background()), ErrNoSource)
	assert.ErrorIs(t, s.SyncNotifications(context.Background()), ErrNoSource)
}

func TestSyncNotifications(t *testing.T) {
	s := newStore(t, nil, WithSource(fakeSource{}))
	require.NoError(t, s.SyncNotifications(context.Background()))
	assert.Len(t, s.GetState().Notifications, 1)

	failing := newStore(t, nil, WithSource(fakeSource{fail: map[string]error{"notifications": errors.New("x")}}))
	assert.Error(t, failing.SyncNotifications(context.Background()))
}
