package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"wealthflow/internal/core"
)

// TransactionNotification describes a recorded transaction. accountName
// resolves account ids for transfer messages and may be nil.
func TransactionNotification(tx core.Transaction, accountName func(id string) string) (core.Notification, bool) {
	name := func(id string) string {
		if accountName != nil {
			if s := accountName(id); s != "" {
				return s
			}
		}
		return id
	}
	amount := core.FormatMoney(tx.Amount, "")

	n := core.Notification{
		Type:     core.NotificationTransaction,
		Priority: core.PriorityMedium,
		Data:     map[string]any{"transactionId": tx.ID},
	}
	switch tx.Type {
	case core.TransactionExpense:
		n.Title = "Expense Recorded"
		n.Message = fmt.Sprintf("You spent %s on %s", amount, tx.Description)
		n.Icon = "expense"
	case core.TransactionIncome:
		n.Title = "Income Received"
		n.Message = fmt.Sprintf("You received %s from %s", amount, tx.Description)
		n.Icon = "income"
	case core.TransactionTransfer:
		n.Title = "Transfer Completed"
		n.Message = fmt.Sprintf("Transferred %s from %s to %s", amount, name(tx.AccountID), name(tx.ToAccountID))
		n.Icon = "transfer"
	default:
		return core.Notification{}, false
	}
	return n, true
}

func TransferNotification(from, to string, amount decimal.Decimal) core.Notification {
	return core.Notification{
		Type:     core.NotificationTransferComplete,
		Title:    "Transfer Completed",
		Message:  fmt.Sprintf("Transferred %s from %s to %s", core.FormatMoney(amount, ""), from, to),
		Icon:     "transfer",
		Priority: core.PriorityMedium,
	}
}

func LowBalanceNotification(a core.Account) core.Notification {
	return core.Notification{
		Type:     core.NotificationBalanceAlert,
		Title:    "Low Balance Alert",
		Message:  fmt.Sprintf("%s has a low balance of %s", a.Name, core.FormatMoney(a.Balance, a.Currency)),
		Icon:     "warning",
		Priority: core.PriorityHigh,
		Data:     map[string]any{"accountId": a.ID},
	}
}

func BudgetWarningNotification(b core.Budget) core.Notification {
	pct := core.Percent(b.Spent, b.Amount)
	return core.Notification{
		Type:     core.NotificationBudgetWarning,
		Title:    "Budget Warning",
		Message:  fmt.Sprintf("%s is %s%% used", b.Name, pct.StringFixed(0)),
		Icon:     "budget",
		Priority: core.PriorityMedium,
		Data:     map[string]any{"budgetId": b.ID},
	}
}

func BillReminderNotification(b core.Bill) core.Notification {
	return core.Notification{
		Type:     core.NotificationBillReminder,
		Title:    "Bill Reminder",
		Message:  fmt.Sprintf("%s of %s is due on %s", b.Name, core.FormatMoney(b.Amount, ""), b.DueDate),
		Icon:     "bill",
		Priority: core.PriorityHigh,
		Data:     map[string]any{"billId": b.ID},
	}
}

// GoalProgressNotification reports the milestone a goal has reached
func GoalProgressNotification(g core.Goal, milestone int) core.Notification {
	return core.Notification{
		Type:     core.NotificationGoalProgress,
		Title:    "Goal Progress",
		Message:  fmt.Sprintf("%s is %d%% complete", g.Name, milestone),
		Icon:     "goal",
		Priority: core.PriorityLow,
		Data:     map[string]any{"goalId": g.ID, "milestone": milestone},
	}
}

func DailySummaryNotification(s core.DashboardSummary) core.Notification {
	return core.Notification{
		Type:  core.NotificationSystem,
		Title: "Daily Financial Summary",
		Message: fmt.Sprintf("Today: Income %s, Expenses %s",
			core.FormatMoney(s.TotalIncome, ""), core.FormatMoney(s.TotalExpenses, "")),
		Icon:     "summary",
		Priority: core.PriorityLow,
	}
}

// PushNotification wraps a server push payload
func PushNotification(title, body string, data map[string]any) core.Notification {
	return core.Notification{
		Type:     core.NotificationPush,
		Title:    title,
		Message:  body,
		Priority: core.PriorityMedium,
		Data:     data,
	}
}
