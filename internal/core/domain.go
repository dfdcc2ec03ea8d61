package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionExpense  TransactionType = "expense"
	TransactionIncome   TransactionType = "income"
	TransactionTransfer TransactionType = "transfer"
)

type (
	TransactionType string

	// Entity is anything stored in a keyed collection of the state snapshot
	Entity interface {
		EntityID() string
	}

	User struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Name     string `json:"name,omitempty"`
		Currency string `json:"currency,omitempty"`
	}

	Account struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Type     string          `json:"type,omitempty"`
		Balance  decimal.Decimal `json:"balance"`
		Currency string          `json:"currency,omitempty"`
	}

	Transaction struct {
		ID          string          `json:"id"`
		AccountID   string          `json:"account_id"`
		ToAccountID string          `json:"to_account_id,omitempty"`
		Type        TransactionType `json:"type"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
		CategoryID  string          `json:"category_id,omitempty"`
		Date        Date            `json:"date"`
	}

	Category struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Type  string `json:"type,omitempty"`
		Color string `json:"color,omitempty"`
	}

	Budget struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		CategoryID string          `json:"category_id,omitempty"`
		Amount     decimal.Decimal `json:"amount"`
		Spent      decimal.Decimal `json:"spent"`
	}

	Goal struct {
		ID            string          `json:"id"`
		Name          string          `json:"name"`
		TargetAmount  decimal.Decimal `json:"target_amount"`
		CurrentAmount decimal.Decimal `json:"current_amount"`
		Deadline      *Date           `json:"deadline,omitempty"`
	}

	Bill struct {
		ID      string          `json:"id"`
		Name    string          `json:"name"`
		Amount  decimal.Decimal `json:"amount"`
		DueDate Date            `json:"due_date"`
	}

	DashboardSummary struct {
		TotalBalance    decimal.Decimal `json:"total_balance"`
		MonthlyIncome   decimal.Decimal `json:"monthly_income"`
		MonthlyExpenses decimal.Decimal `json:"monthly_expenses"`
		TotalIncome     decimal.Decimal `json:"total_income"`
		TotalExpenses   decimal.Decimal `json:"total_expenses"`
	}

	Dashboard struct {
		Summary       DashboardSummary `json:"summary"`
		UpcomingBills []Bill           `json:"upcoming_bills,omitempty"`
		Insights      []string         `json:"insights,omitempty"`
	}
)

var (
	ErrEmptyID          = errors.New("empty id")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidType      = errors.New("invalid transaction type")
)

func (u User) EntityID() string        { return u.ID }
func (a Account) EntityID() string     { return a.ID }
func (t Transaction) EntityID() string { return t.ID }
func (c Category) EntityID() string    { return c.ID }
func (b Budget) EntityID() string      { return b.ID }
func (g Goal) EntityID() string        { return g.ID }
func (b Bill) EntityID() string        { return b.ID }

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionExpense, TransactionIncome, TransactionTransfer:
		return true
	}
	return false
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if !t.Type.IsValid() {
		return ErrInvalidType
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.Type == TransactionTransfer && t.ToAccountID == "" {
		return errors.New("transfer requires a destination account")
	}
	return nil
}

// UsedPercent is spent/amount as a percentage; zero when no amount is budgeted
func (b Budget) UsedPercent() decimal.Decimal {
	return Percent(b.Spent, b.Amount)
}

// ProgressPercent is current/target as a percentage; zero when no target is set
func (g Goal) ProgressPercent() decimal.Decimal {
	return Percent(g.CurrentAmount, g.TargetAmount)
}

// DaysUntilDue counts calendar days from now to the due date. Negative when overdue.
func (b Bill) DaysUntilDue(now time.Time) int {
	due := time.Date(b.DueDate.Year(), b.DueDate.Time.Month(), b.DueDate.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(due.Sub(today).Hours() / 24)
}
