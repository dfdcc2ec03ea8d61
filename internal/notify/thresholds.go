package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"wealthflow/internal/core"
	"wealthflow/internal/log"
	"wealthflow/internal/storage"
)

const (
	BudgetWarningPercent = 80
	BillReminderDays     = 3
)

// DefaultLowBalance is the balance below which an account alert fires
var DefaultLowBalance = decimal.NewFromInt(100)

// GoalMilestones are the progress percentages that produce a notification
var GoalMilestones = []int{25, 50, 75, 100}

// Thresholds decides which threshold notifications are due. A condition
// fires once when it becomes true and re-arms only after it becomes false
// again, so repeated polling of an unchanged state is silent. The
// last-notified ledger is persisted.
type Thresholds struct {
	kv         storage.KV
	lowBalance decimal.Decimal
	logger     *log.Logger

	mu     sync.Mutex
	ledger map[string]string
	dirty  bool
}

func NewThresholds(ctx context.Context, kv storage.KV, lowBalance decimal.Decimal, logger *log.Logger) (*Thresholds, error) {
	t := &Thresholds{
		kv:         kv,
		lowBalance: lowBalance,
		logger:     log.OrNop(logger).WithComponent(log.ComponentNotify),
		ledger:     make(map[string]string),
	}
	if kv == nil {
		return t, nil
	}
	if _, err := storage.GetJSON(ctx, kv, storage.KeyNotificationLedger, &t.ledger); err != nil {
		t.logger.Warn("Ignoring unreadable notification ledger", log.FieldError, err.Error())
		t.ledger = make(map[string]string)
	}
	if t.ledger == nil {
		t.ledger = make(map[string]string)
	}
	return t, nil
}

// Accounts returns a low balance alert for every account whose balance has
// just dropped below the threshold while still positive.
func (t *Thresholds) Accounts(accounts []core.Account) []core.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []core.Notification
	for _, a := range accounts {
		key := "balance:" + a.ID
		low := a.Balance.IsPositive() && a.Balance.LessThan(t.lowBalance)
		if t.edge(key, low, "low") {
			out = append(out, LowBalanceNotification(a))
		}
	}
	return out
}

// Budgets returns a warning for every budget that has just reached 80% use
func (t *Thresholds) Budgets(budgets []core.Budget) []core.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit := decimal.NewFromInt(BudgetWarningPercent)
	var out []core.Notification
	for _, b := range budgets {
		key := "budget:" + b.ID
		over := b.Amount.IsPositive() && core.Percent(b.Spent, b.Amount).GreaterThanOrEqual(limit)
		if t.edge(key, over, "warn") {
			out = append(out, BudgetWarningNotification(b))
		}
	}
	return out
}

// Bills returns one reminder per bill and due date for bills due within
// three days of today. Ledger entries for past due dates are pruned.
func (t *Thresholds) Bills(bills []core.Bill, now time.Time) []core.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := truncateDay(now)
	var out []core.Notification
	for _, b := range bills {
		if b.DueDate.IsZero() {
			continue
		}
		due := truncateDay(b.DueDate.Time)
		days := int(due.Sub(today).Hours() / 24)
		if days < 0 || days > BillReminderDays {
			continue
		}
		key := "bill:" + b.ID
		stamp := b.DueDate.String()
		if t.ledger[key] == stamp {
			continue
		}
		t.ledger[key] = stamp
		t.dirty = true
		out = append(out, BillReminderNotification(b))
	}

	for key, stamp := range t.ledger {
		if !strings.HasPrefix(key, "bill:") {
			continue
		}
		if d, err := core.ParseDate(stamp); err == nil && d.Before(today) {
			delete(t.ledger, key)
			t.dirty = true
		}
	}
	return out
}

// Goals returns a notification when a goal crosses a milestone it had not
// reached before. Falling back below a milestone re-arms it.
func (t *Thresholds) Goals(goals []core.Goal) []core.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []core.Notification
	for _, g := range goals {
		key := "goal:" + g.ID
		reached := milestone(core.Percent(g.CurrentAmount, g.TargetAmount))
		prev, _ := strconv.Atoi(t.ledger[key])

		switch {
		case reached == 0:
			if _, ok := t.ledger[key]; ok {
				delete(t.ledger, key)
				t.dirty = true
			}
		case reached > prev:
			t.ledger[key] = strconv.Itoa(reached)
			t.dirty = true
			out = append(out, GoalProgressNotification(g, reached))
		case reached < prev:
			t.ledger[key] = strconv.Itoa(reached)
			t.dirty = true
		}
	}
	return out
}

// Save persists the ledger if it changed
func (t *Thresholds) Save(ctx context.Context) error {
	t.mu.Lock()
	if !t.dirty || t.kv == nil {
		t.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]string, len(t.ledger))
	for k, v := range t.ledger {
		snapshot[k] = v
	}
	t.dirty = false
	t.mu.Unlock()

	if err := storage.PutJSON(ctx, t.kv, storage.KeyNotificationLedger, snapshot); err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		return fmt.Errorf("save notification ledger: %w", err)
	}
	return nil
}

// Reset forgets every notified condition
func (t *Thresholds) Reset() {
	t.mu.Lock()
	t.ledger = make(map[string]string)
	t.dirty = true
	t.mu.Unlock()
}

// edge records cond under key and reports a false-to-true transition
func (t *Thresholds) edge(key string, cond bool, mark string) bool {
	_, notified := t.ledger[key]
	switch {
	case cond && !notified:
		t.ledger[key] = mark
		t.dirty = true
		return true
	case !cond && notified:
		delete(t.ledger, key)
		t.dirty = true
	}
	return false
}

func milestone(pct decimal.Decimal) int {
	reached := 0
	for _, m := range GoalMilestones {
		if pct.GreaterThanOrEqual(decimal.NewFromInt(int64(m))) {
			reached = m
		}
	}
	return reached
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
