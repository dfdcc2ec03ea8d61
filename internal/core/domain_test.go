package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true},
		{" 2.50 ", "2.5", true},
		{"-1", "", false},
		{"0", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.out)), "%q -> %s", tc.in, got)
	}
}

func TestPercent(t *testing.T) {
	b := Budget{Amount: decimal.NewFromInt(200), Spent: decimal.NewFromInt(164)}
	assert.Equal(t, "82", b.UsedPercent().String())

	assert.True(t, Budget{Spent: decimal.NewFromInt(5)}.UsedPercent().IsZero())

	g := Goal{TargetAmount: decimal.NewFromInt(1000), CurrentAmount: decimal.NewFromInt(250)}
	assert.Equal(t, "25", g.ProgressPercent().String())
}

func TestBill_DaysUntilDue(t *testing.T) {
	now := time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC)
	tests := []struct {
		due  Date
		want int
	}{
		{NewDate(2024, 3, 10), 0},
		{NewDate(2024, 3, 13), 3},
		{NewDate(2024, 3, 9), -1},
		{NewDate(2024, 4, 1), 22},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bill{DueDate: tt.due}.DaysUntilDue(now), tt.due.String())
	}
}

func TestDate_JSON(t *testing.T) {
	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(`{"id":"t1","type":"expense","amount":"12.50","date":"2024-02-29"}`), &tx))
	assert.Equal(t, 2024, tx.Date.Year())
	assert.Equal(t, 2, tx.Date.Month())
	assert.Equal(t, 29, tx.Date.Day())
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("12.5")))

	require.NoError(t, json.Unmarshal([]byte(`{"date":"2024-02-29T10:00:00Z"}`), &tx))
	assert.Equal(t, 29, tx.Date.Day())

	out, err := json.Marshal(Bill{ID: "b", DueDate: NewDate(2024, 1, 5)})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"due_date":"2024-01-05"`)

	assert.Error(t, json.Unmarshal([]byte(`{"date":"yesterday"}`), &tx))
}

func TestTransaction_Validate(t *testing.T) {
	ok := Transaction{ID: "1", Type: TransactionExpense, Amount: decimal.NewFromInt(3)}
	assert.NoError(t, ok.Validate())

	noID := ok
	noID.ID = " "
	assert.ErrorIs(t, noID.Validate(), ErrEmptyID)

	badType := ok
	badType.Type = "gift"
	assert.ErrorIs(t, badType.Validate(), ErrInvalidType)

	zero := ok
	zero.Amount = decimal.Zero
	assert.ErrorIs(t, zero.Validate(), ErrInvalidAmount)

	transfer := ok
	transfer.Type = TransactionTransfer
	assert.Error(t, transfer.Validate())
	transfer.ToAccountID = "a2"
	assert.NoError(t, transfer.Validate())
}

func TestNotificationHelpers(t *testing.T) {
	assert.Equal(t, "/budgets", DefaultURL(NotificationBudgetWarning))
	assert.Equal(t, "/", DefaultURL("custom"))

	assert.Equal(t, time.Duration(0), PriorityHigh.AutoClose())
	assert.Equal(t, 10*time.Second, PriorityLow.AutoClose())
	assert.Equal(t, 30*time.Second, PriorityMedium.AutoClose())

	ns := []Notification{{ID: "a"}, {ID: "b", IsRead: true}, {ID: "c"}}
	assert.Equal(t, 2, CountUnread(ns))
	assert.Len(t, NotificationTypes(), 6)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "12.50 EUR", FormatMoney(decimal.RequireFromString("12.5"), "EUR"))
	assert.Equal(t, "3.00", FormatMoney(decimal.NewFromInt(3), ""))
}
