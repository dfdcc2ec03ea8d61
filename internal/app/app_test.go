package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealthflow/internal/config"
	"wealthflow/internal/core"
	"wealthflow/internal/gateway"
	"wealthflow/internal/identity"
	"wealthflow/internal/notify"
	"wealthflow/internal/realtime"
	"wealthflow/internal/storage"
)

type quietDesktop struct{ shown atomic.Int32 }

func (d *quietDesktop) RequestPermission(context.Context) notify.Permission {
	return notify.PermissionGranted
}

func (d *quietDesktop) Show(context.Context, core.Notification) error {
	d.shown.Add(1)
	return nil
}

type quietSounder struct{}

func (quietSounder) Beep() {}

type fakeBackend struct {
	srv          *httptest.Server
	hub          *realtime.Hub
	unauthorized atomic.Bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	users, err := identity.ParseStaticTokens("tok=u1:u1@example.com")
	require.NoError(t, err)

	fb := &fakeBackend{hub: realtime.NewHub(identity.NewStaticProvider(users))}
	routes := map[string]string{
		"/api/accounts":                 `{"accounts":[{"id":"a1","name":"Checking","balance":"250"},{"id":"a2","name":"Savings","balance":"1000"}]}`,
		"/api/transactions/recent":      `[]`,
		"/api/categories":               `[]`,
		"/api/budgets":                  `[]`,
		"/api/goals":                    `[]`,
		"/api/notifications":            `[]`,
		"/api/notifications/unread":     `[]`,
		"/api/dashboard/summary":        `{"total_balance":"1250"}`,
		"/api/dashboard/upcoming-bills": `[]`,
		"/health":                       `{"status":"OK"}`,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", fb.hub)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if fb.unauthorized.Load() && r.URL.Path != "/health" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"expired"}`))
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			if r.Method != http.MethodGet {
				body, ok = `{}`, true
			}
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		fb.hub.Close()
		fb.srv.Close()
	})
	return fb
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		APIBaseURL:                baseURL,
		WSURL:                     config.DeriveWSURL(baseURL),
		RequestTimeout:            5 * time.Second,
		RetryAttempts:             0,
		RetryDelay:                time.Millisecond,
		CacheTTL:                  time.Minute,
		CacheMaxItems:             50,
		CacheSweep:                time.Minute,
		QueueMaxAttempts:          3,
		QueueDrainDelay:           time.Millisecond,
		HealthInterval:            time.Hour,
		StorageBackend:            "memory",
		ReconnectAttempts:         2,
		ReconnectBase:             10 * time.Millisecond,
		ReconnectMax:              50 * time.Millisecond,
		NotificationPollInterval:  time.Hour,
		NotificationCheckInterval: time.Hour,
		LowBalanceThreshold:       "100",
	}
}

func newTestApp(t *testing.T, fb *fakeBackend) (*App, *quietDesktop) {
	t.Helper()
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Put(ctx, storage.KeyToken, []byte("tok")))

	desktop := &quietDesktop{}
	a, err := New(ctx, testConfig(fb.srv.URL), nil,
		WithKV(kv), WithDesktop(desktop), WithSounder(quietSounder{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, desktop
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.Error(t, err)

	cfg := testConfig("http://localhost:1")
	cfg.LowBalanceThreshold = "lots"
	_, err = New(context.Background(), cfg, nil, WithKV(storage.NewMemoryKV()))
	assert.ErrorContains(t, err, "invalid low balance threshold")
}

func TestStart_SyncsState(t *testing.T) {
	fb := newFakeBackend(t)
	a, _ := newTestApp(t, fb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx, false))
	assert.Error(t, a.Start(ctx, false))

	snap := a.State.GetState()
	require.Len(t, snap.Accounts, 2)
	assert.True(t, snap.Dashboard.Summary.TotalBalance.Equal(decimal.NewFromInt(1250)))

	st := a.Status(ctx)
	assert.True(t, st.Authenticated)
	assert.Equal(t, 2, st.Accounts)
	assert.Equal(t, "disconnected", st.Realtime)
	assert.True(t, a.Scheduler.IsRunning())
}

func TestRealtimeEventsReachState(t *testing.T) {
	fb := newFakeBackend(t)
	a, desktop := newTestApp(t, fb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx, true))
	require.Equal(t, realtime.Authenticated, a.Channel.State())

	_, err := fb.hub.EmitToUser("u1", realtime.TypeBalanceUpdate,
		realtime.BalanceUpdate{AccountID: "a1", Balance: decimal.RequireFromString("75.5")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		acct, ok := a.State.AccountByID("a1")
		return ok && acct.Balance.Equal(decimal.RequireFromString("75.5"))
	}, 2*time.Second, 10*time.Millisecond)
	acct, _ := a.State.AccountByID("a1")
	assert.Equal(t, "Checking", acct.Name)

	_, err = fb.hub.EmitToUser("u1", realtime.TypeNotification, core.Notification{
		ID: "srv-1", Type: core.NotificationSystem, Title: "Maintenance", Message: "Tonight",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, n := range a.Notify.List() {
			if n.ID == "srv-1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, err = fb.hub.EmitToUser("u1", realtime.TypeTransferSuccess, realtime.TransferSuccess{
		FromAccountID: "a2", ToAccountID: "a1", Amount: decimal.NewFromInt(20),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, n := range a.Notify.List() {
			if n.Type == core.NotificationTransferComplete {
				return strings.Contains(n.Message, "from Savings to Checking")
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, desktop.shown.Load())
}

func TestUnauthorizedSignsOut(t *testing.T) {
	fb := newFakeBackend(t)
	a, _ := newTestApp(t, fb)
	ctx := context.Background()

	a.State.SetUser(&core.User{ID: "u1"})
	fb.unauthorized.Store(true)

	_, err := a.API.Accounts.List(ctx)
	require.Error(t, err)

	assert.False(t, a.Tokens.HasToken(ctx))
	snap := a.State.GetState()
	assert.Nil(t, snap.User)
	require.NotEmpty(t, snap.UI.Errors)
	assert.Contains(t, snap.UI.Errors[0].Message, "session has expired")
}

func TestUpdateSettings(t *testing.T) {
	fb := newFakeBackend(t)
	a, _ := newTestApp(t, fb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := notify.DefaultSettings()
	s.ScheduleTime = "07:30"
	require.NoError(t, a.UpdateSettings(ctx, s), "scheduler not running yet")

	require.NoError(t, a.Start(ctx, false))
	s.ScheduleTime = "18:45"
	require.NoError(t, a.UpdateSettings(ctx, s))
	assert.Equal(t, "18:45", a.Notify.Settings().ScheduleTime)
	next := a.Scheduler.Next()
	assert.Equal(t, 18, next.Hour())
	assert.Equal(t, 45, next.Minute())

	s.ScheduleTime = "25:00"
	assert.Error(t, a.UpdateSettings(ctx, s))
}

func TestCloseWithoutStart(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := testConfig(fb.srv.URL)
	a, err := New(context.Background(), cfg, nil, WithDesktop(&quietDesktop{}), WithSounder(quietSounder{}))
	require.NoError(t, err)
	assert.NoError(t, a.Close(context.Background()))
}

func TestOfflineNotificationsDoNotWaitForReplay(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()

	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Put(ctx, storage.KeyToken, []byte("tok")))
	a, err := New(ctx, testConfig(url), nil,
		WithKV(kv), WithDesktop(&quietDesktop{}), WithSounder(quietSounder{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	a.Monitor.Set(false)

	done := make(chan error, 1)
	go func() {
		for _, title := range []string{"Groceries at 85%", "Dining at 90%"} {
			if _, err := a.Notify.CreateNotification(ctx, core.Notification{
				Title: title,
				Type:  core.NotificationBudgetWarning,
			}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("creating notifications blocked while offline")
	}
	assert.Len(t, a.State.GetState().Notifications, 2)
	assert.GreaterOrEqual(t, a.Queue.Len(), 2, "remote saves are parked for replay")
}

func TestReplayRejectedTokenSignsOut(t *testing.T) {
	fb := newFakeBackend(t)
	a, _ := newTestApp(t, fb)
	ctx := context.Background()

	a.State.SetUser(&core.User{ID: "u1"})
	a.Monitor.Set(false)
	d, err := gateway.Post("/api/transactions", map[string]string{"amount": "12.50"})
	require.NoError(t, err)
	require.NoError(t, a.Queue.Park(ctx, d))

	fb.unauthorized.Store(true)
	a.Monitor.Set(true)

	require.Eventually(t, func() bool {
		return a.Queue.Len() == 0 && !a.Tokens.HasToken(ctx)
	}, 2*time.Second, 10*time.Millisecond)

	snap := a.State.GetState()
	assert.Nil(t, snap.User)
	require.NotEmpty(t, snap.UI.Errors)
	assert.Contains(t, snap.UI.Errors[0].Message, "session has expired")
}
