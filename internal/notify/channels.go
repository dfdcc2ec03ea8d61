package notify

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"wealthflow/internal/core"
	"wealthflow/internal/state"
)

// Permission is the desktop channel's grant state
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "default"
	}
}

// Desktop shows OS-level notifications
type Desktop interface {
	RequestPermission(ctx context.Context) Permission
	Show(ctx context.Context, n core.Notification) error
}

// Toaster shows an in-app toast
type Toaster interface {
	Toast(n core.Notification)
}

// Sounder plays the audible cue
type Sounder interface {
	Beep()
}

// Pusher forwards a notification to the user's other devices
type Pusher interface {
	Push(ctx context.Context, eventType string, payload any) error
}

// Remote is the server-side notification store
type Remote interface {
	List(ctx context.Context) ([]core.Notification, error)
	Unread(ctx context.Context) ([]core.Notification, error)
	Create(ctx context.Context, n core.Notification) error
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	UpdateSettings(ctx context.Context, settings any) error
}

// DesktopNotifier shells out to notify-send. Permission is granted when the
// binary is on PATH; the lookup happens once.
type DesktopNotifier struct {
	binary   string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error

	once sync.Once
	path string
	perm Permission
}

func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		binary:   "notify-send",
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (d *DesktopNotifier) RequestPermission(context.Context) Permission {
	d.once.Do(func() {
		p, err := d.lookPath(d.binary)
		if err != nil {
			d.perm = PermissionDenied
			return
		}
		d.path, d.perm = p, PermissionGranted
	})
	return d.perm
}

func (d *DesktopNotifier) Show(ctx context.Context, n core.Notification) error {
	if d.RequestPermission(ctx) != PermissionGranted {
		return fmt.Errorf("desktop notifications not permitted")
	}
	args := []string{"--app-name=WealthFlow", "--urgency=" + urgency(n.Priority)}
	if ms := n.Priority.AutoClose().Milliseconds(); ms > 0 {
		args = append(args, "--expire-time="+strconv.FormatInt(ms, 10))
	}
	if n.Icon != "" {
		args = append(args, "--icon="+n.Icon)
	}
	args = append(args, n.Title, n.Message)
	return d.run(ctx, d.path, args...)
}

func urgency(p core.Priority) string {
	switch p {
	case core.PriorityHigh:
		return "critical"
	case core.PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// StoreToaster renders toasts through the state store and dismisses each
// after a fixed delay.
type StoreToaster struct {
	store *state.Store
	ttl   time.Duration
	after func(time.Duration, func())
}

func NewStoreToaster(store *state.Store, ttl time.Duration) *StoreToaster {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &StoreToaster{
		store: store,
		ttl:   ttl,
		after: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

func (t *StoreToaster) Toast(n core.Notification) {
	msg := n.Title
	if n.Message != "" {
		msg += ": " + n.Message
	}
	id, _ := t.store.AddToast(msg, toastLevel(n))
	t.after(t.ttl, func() { t.store.DismissToast(id) })
}

func toastLevel(n core.Notification) string {
	switch {
	case n.Type == core.NotificationBalanceAlert || n.Type == core.NotificationBudgetWarning:
		return "warning"
	case n.Priority == core.PriorityHigh:
		return "error"
	default:
		return "info"
	}
}

// BellSounder writes the terminal bell
type BellSounder struct {
	w  io.Writer
	mu sync.Mutex
}

func NewBellSounder(w io.Writer) *BellSounder {
	return &BellSounder{w: w}
}

func (b *BellSounder) Beep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = io.WriteString(b.w, "\a")
}
