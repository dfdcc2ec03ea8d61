package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wealthflow/internal/core"
	"wealthflow/internal/log"
	"wealthflow/internal/metrics"
	"wealthflow/internal/state"
	"wealthflow/internal/storage"
)

// PushEventType is the realtime tag notifications are pushed under
const PushEventType = "NOTIFICATION"

var (
	ErrSuppressed = errors.New("notification type is disabled")
	ErrNotFound   = errors.New("notification not found")
	ErrEmptyTitle = errors.New("notification title is empty")
)

// BillSource lists bills due within the given number of days
type BillSource interface {
	UpcomingBills(ctx context.Context, days int) ([]core.Bill, error)
}

// Engine creates notifications, keeps them in the state store, and shows
// them on the channels the settings enable.
type Engine struct {
	store      *state.Store
	kv         storage.KV
	remote     Remote
	desktop    Desktop
	toaster    Toaster
	sounder    Sounder
	pusher     Pusher
	bills      BillSource
	thresholds *Thresholds
	logger     *log.Logger
	now        func() time.Time
	newID      func() string

	mu         sync.RWMutex
	settings   Settings
	permission Permission
}

type Option func(*Engine)

func WithRemote(r Remote) Option {
	return func(e *Engine) { e.remote = r }
}

func WithDesktop(d Desktop) Option {
	return func(e *Engine) { e.desktop = d }
}

func WithToaster(t Toaster) Option {
	return func(e *Engine) { e.toaster = t }
}

func WithSounder(s Sounder) Option {
	return func(e *Engine) { e.sounder = s }
}

func WithPusher(p Pusher) Option {
	return func(e *Engine) { e.pusher = p }
}

func WithBillSource(b BillSource) Option {
	return func(e *Engine) { e.bills = b }
}

// WithThresholds replaces the default ledger, which uses DefaultLowBalance
func WithThresholds(t *Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDs(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine loads settings from kv and builds an engine over store
func NewEngine(ctx context.Context, store *state.Store, kv storage.KV, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("notification engine requires a state store")
	}
	e := &Engine{
		store: store,
		kv:    kv,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.OrNop(e.logger).WithComponent(log.ComponentNotify)

	settings, err := LoadSettings(ctx, kv)
	if err != nil {
		e.logger.Warn("Using default notification settings", log.FieldError, err.Error())
	}
	e.settings = settings

	if e.thresholds == nil {
		t, err := NewThresholds(ctx, kv, DefaultLowBalance, e.logger)
		if err != nil {
			return nil, err
		}
		e.thresholds = t
	}
	return e, nil
}

// RequestPermission asks the desktop channel for permission once. A denied
// or granted answer is final.
func (e *Engine) RequestPermission(ctx context.Context) Permission {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.desktop == nil {
		e.permission = PermissionDenied
		return e.permission
	}
	if e.permission == PermissionDefault {
		e.permission = e.desktop.RequestPermission(ctx)
		e.logger.Info("Desktop notification permission", "permission", e.permission.String())
	}
	return e.permission
}

func (e *Engine) Permission() Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.permission
}

func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings.clone()
}

// UpdateSettings validates, stores and persists s. The remote copy is
// updated best-effort.
func (e *Engine) UpdateSettings(ctx context.Context, s Settings) error {
	if s.Types == nil {
		s.Types = DefaultSettings().Types
	}
	if err := s.Validate(); err != nil {
		return err
	}
	s = s.clone()
	if err := SaveSettings(ctx, e.kv, s); err != nil {
		return fmt.Errorf("save notification settings: %w", err)
	}

	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()

	if s.Desktop {
		e.RequestPermission(ctx)
	}
	if e.remote != nil {
		if err := e.remote.UpdateSettings(ctx, s); err != nil {
			e.logger.WarnContext(ctx, "Failed to update remote notification settings", log.FieldError, err.Error())
		}
	}
	return nil
}

// CreateNotification fills in id, timestamp and defaults, adds n to the front
// of the list, shows it and saves it remotely. It returns ErrSuppressed when
// the settings disable n's type.
func (e *Engine) CreateNotification(ctx context.Context, n core.Notification) (core.Notification, error) {
	n, err := e.admit(n)
	if err != nil {
		return core.Notification{}, err
	}
	n.ID = e.newID()
	n.Timestamp = e.now().UTC()
	n.IsRead = false

	e.store.UpsertNotification(n)
	metrics.RecordNotification(string(n.Type))
	e.logger.DebugContext(ctx, "Notification created",
		log.FieldNotification, n.ID,
		log.FieldNotifType, string(n.Type))

	e.display(ctx, n, true)

	if e.remote != nil {
		if err := e.remote.Create(ctx, n); err != nil {
			e.logger.WarnContext(ctx, "Failed to save notification",
				log.FieldNotification, n.ID,
				log.FieldError, err.Error())
		}
	}
	return n, nil
}

// Receive adds a notification that originated on the server, keeping its id.
// Known ids are ignored, so an echo of a pushed notification is shown once.
func (e *Engine) Receive(ctx context.Context, n core.Notification) (bool, error) {
	if n.ID == "" {
		_, err := e.CreateNotification(ctx, n)
		return err == nil, err
	}
	if _, ok := e.find(n.ID); ok {
		return false, nil
	}
	n, err := e.admit(n)
	if err != nil {
		return false, err
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = e.now().UTC()
	}
	e.store.UpsertNotification(n)
	metrics.RecordNotification(string(n.Type))
	if !n.IsRead {
		e.display(ctx, n, false)
	}
	return true, nil
}

func (e *Engine) admit(n core.Notification) (core.Notification, error) {
	if strings.TrimSpace(n.Title) == "" {
		return n, ErrEmptyTitle
	}
	if n.Type == "" {
		n.Type = core.NotificationSystem
	}
	if !e.Settings().Allows(n.Type) {
		return n, fmt.Errorf("%w: %s", ErrSuppressed, n.Type)
	}
	if n.Priority == "" {
		n.Priority = core.PriorityMedium
	}
	if n.URL == "" {
		n.URL = core.DefaultURL(n.Type)
	}
	return n, nil
}

// display shows n on each enabled channel. Channel failures are logged.
func (e *Engine) display(ctx context.Context, n core.Notification, local bool) {
	s := e.Settings()

	if s.Sound && e.sounder != nil {
		e.sounder.Beep()
	}
	if s.Desktop && e.desktop != nil && e.Permission() == PermissionGranted {
		if err := e.desktop.Show(ctx, n); err != nil {
			e.logger.WarnContext(ctx, "Desktop notification failed", log.FieldError, err.Error())
		}
	}
	if e.toaster != nil {
		e.toaster.Toast(n)
	}
	if local && s.Push && e.pusher != nil {
		if err := e.pusher.Push(ctx, PushEventType, n); err != nil {
			e.logger.WarnContext(ctx, "Push notification failed", log.FieldError, err.Error())
		}
	}
}

// MarkAsRead marks one notification read
func (e *Engine) MarkAsRead(ctx context.Context, id string) error {
	n, ok := e.find(id)
	if !ok {
		return ErrNotFound
	}
	if n.IsRead {
		return nil
	}
	e.store.MarkNotificationAsRead(id)
	e.remoteCall(ctx, "mark as read", func(r Remote) error { return r.MarkAsRead(ctx, id) })
	return nil
}

func (e *Engine) MarkAllAsRead(ctx context.Context) {
	e.store.MarkAllNotificationsAsRead()
	e.remoteCall(ctx, "mark all as read", func(r Remote) error { return r.MarkAllAsRead(ctx) })
}

// Dismiss removes one notification
func (e *Engine) Dismiss(ctx context.Context, id string) error {
	if _, ok := e.find(id); !ok {
		return ErrNotFound
	}
	e.store.RemoveNotification(id)
	e.remoteCall(ctx, "delete", func(r Remote) error { return r.Delete(ctx, id) })
	return nil
}

// ClearAll removes every notification locally and deletes each remotely
func (e *Engine) ClearAll(ctx context.Context) {
	ids := make([]string, 0)
	for _, n := range e.store.GetState().Notifications {
		ids = append(ids, n.ID)
	}
	e.store.SetNotifications(nil)
	e.remoteCall(ctx, "clear", func(r Remote) error {
		var errs []error
		for _, id := range ids {
			if err := r.Delete(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
		}
		return errors.Join(errs...)
	})
}

func (e *Engine) remoteCall(ctx context.Context, op string, fn func(Remote) error) {
	if e.remote == nil {
		return
	}
	if err := fn(e.remote); err != nil {
		e.logger.WarnContext(ctx, "Remote notification update failed",
			log.FieldOperation, op,
			log.FieldError, err.Error())
	}
}

func (e *Engine) find(id string) (core.Notification, bool) {
	for _, n := range e.store.GetState().Notifications {
		if n.ID == id {
			return n, true
		}
	}
	return core.Notification{}, false
}

// List returns the notifications, newest first
func (e *Engine) List() []core.Notification {
	return e.store.GetState().Notifications
}

func (e *Engine) UnreadCount() int {
	return core.CountUnread(e.store.GetState().Notifications)
}

// Load fills the store from the remote list when it has no notifications yet
func (e *Engine) Load(ctx context.Context) error {
	if len(e.store.GetState().Notifications) > 0 || e.remote == nil {
		return nil
	}
	ns, err := e.remote.List(ctx)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	e.store.SetNotifications(ns)
	return nil
}

// Refresh pulls unread notifications from the server and shows the new ones
func (e *Engine) Refresh(ctx context.Context) (int, error) {
	if e.remote == nil {
		return 0, nil
	}
	ns, err := e.remote.Unread(ctx)
	if err != nil {
		return 0, fmt.Errorf("refresh notifications: %w", err)
	}
	added := 0
	for _, n := range ns {
		ok, err := e.Receive(ctx, n)
		if err != nil && !errors.Is(err, ErrSuppressed) {
			e.logger.DebugContext(ctx, "Skipping server notification", log.FieldError, err.Error())
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// CheckThresholds evaluates balances, budgets, bills and goals against the
// current state and creates a notification for each newly crossed threshold.
func (e *Engine) CheckThresholds(ctx context.Context) ([]core.Notification, error) {
	s := e.Settings()
	if !s.Enabled {
		return nil, nil
	}
	snap := e.store.GetState()

	var due []core.Notification
	if s.Allows(core.NotificationBalanceAlert) {
		due = append(due, e.thresholds.Accounts(snap.Accounts)...)
	}
	if s.Allows(core.NotificationBudgetWarning) {
		due = append(due, e.thresholds.Budgets(snap.Budgets)...)
	}
	if s.Allows(core.NotificationGoalProgress) {
		due = append(due, e.thresholds.Goals(snap.Goals)...)
	}

	var errs []error
	if s.Allows(core.NotificationBillReminder) {
		bills := snap.Dashboard.UpcomingBills
		if e.bills != nil {
			fetched, err := e.bills.UpcomingBills(ctx, BillReminderDays)
			if err != nil {
				errs = append(errs, fmt.Errorf("upcoming bills: %w", err))
			} else {
				bills = fetched
			}
		}
		due = append(due, e.thresholds.Bills(bills, e.now())...)
	}

	created := make([]core.Notification, 0, len(due))
	for _, n := range due {
		out, err := e.CreateNotification(ctx, n)
		if err != nil {
			continue
		}
		created = append(created, out)
	}
	if err := e.thresholds.Save(ctx); err != nil {
		errs = append(errs, err)
	}
	return created, errors.Join(errs...)
}

// DailySummary creates the daily summary from the dashboard in the store
func (e *Engine) DailySummary(ctx context.Context) (core.Notification, error) {
	return e.CreateNotification(ctx, DailySummaryNotification(e.store.GetState().Dashboard.Summary))
}

// NotifyTransaction creates the notification for a recorded transaction
func (e *Engine) NotifyTransaction(ctx context.Context, tx core.Transaction) (core.Notification, error) {
	n, ok := TransactionNotification(tx, func(id string) string {
		if a, ok := e.store.AccountByID(id); ok {
			return a.Name
		}
		return ""
	})
	if !ok {
		return core.Notification{}, fmt.Errorf("no notification for transaction type %q", tx.Type)
	}
	return e.CreateNotification(ctx, n)
}
