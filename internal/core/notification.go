package core

import "time"

const (
	NotificationTransaction      NotificationType = "transaction"
	NotificationBalanceAlert     NotificationType = "balance_alert"
	NotificationBillReminder     NotificationType = "bill_reminder"
	NotificationBudgetWarning    NotificationType = "budget_warning"
	NotificationTransferComplete NotificationType = "transfer_complete"
	NotificationGoalProgress     NotificationType = "goal_progress"
	NotificationSystem           NotificationType = "system"
	NotificationPush             NotificationType = "push"
)

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type (
	NotificationType string
	Priority         string

	Notification struct {
		ID        string           `json:"id"`
		Type      NotificationType `json:"type"`
		Title     string           `json:"title"`
		Message   string           `json:"message"`
		Timestamp time.Time        `json:"timestamp"`
		IsRead    bool             `json:"is_read"`
		Priority  Priority         `json:"priority,omitempty"`
		Icon      string           `json:"icon,omitempty"`
		Data      map[string]any   `json:"data,omitempty"`
		URL       string           `json:"url,omitempty"`
	}
)

// NotificationTypes lists every type that has a per-type settings toggle
func NotificationTypes() []NotificationType {
	return []NotificationType{
		NotificationBalanceAlert,
		NotificationBillReminder,
		NotificationBudgetWarning,
		NotificationTransferComplete,
		NotificationGoalProgress,
		NotificationSystem,
	}
}

func (n Notification) EntityID() string { return n.ID }

// DefaultURL is the page a notification of type t links to when none is given
func DefaultURL(t NotificationType) string {
	switch t {
	case NotificationTransaction, NotificationTransferComplete:
		return "/transactions"
	case NotificationBalanceAlert:
		return "/accounts"
	case NotificationBudgetWarning:
		return "/budgets"
	case NotificationBillReminder:
		return "/bills"
	case NotificationGoalProgress:
		return "/goals"
	default:
		return "/"
	}
}

// AutoClose is how long a desktop notification stays up. Zero means it stays until dismissed.
func (p Priority) AutoClose() time.Duration {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 10 * time.Second
	default:
		return 30 * time.Second
	}
}

// CountUnread returns how many notifications have not been read
func CountUnread(ns []Notification) int {
	n := 0
	for _, x := range ns {
		if !x.IsRead {
			n++
		}
	}
	return n
}
