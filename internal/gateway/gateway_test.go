package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealthflow/internal/cache"
)

type scriptedExec struct {
	mu    sync.Mutex
	calls []Descriptor
	steps []func(d Descriptor) ([]byte, error)
}

func (s *scriptedExec) Execute(_ context.Context, d Descriptor) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
	i := len(s.calls) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i](d)
}

func (s *scriptedExec) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func ok(body string) func(Descriptor) ([]byte, error) {
	return func(Descriptor) ([]byte, error) { return []byte(body), nil }
}

func fails(kind Kind, status int) func(Descriptor) ([]byte, error) {
	return func(d Descriptor) ([]byte, error) {
		return nil, &Error{Kind: kind, Status: status, Method: d.Method, Endpoint: d.Endpoint}
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticConn struct{ online atomic.Bool }

func (c *staticConn) Online() bool { return c.online.Load() }

type recordingQueue struct {
	submitted []Descriptor
	parked    []Descriptor
	result    []byte
	err       error
}

func (q *recordingQueue) Submit(_ context.Context, d Descriptor) ([]byte, error) {
	q.submitted = append(q.submitted, d)
	return q.result, q.err
}

func (q *recordingQueue) Park(_ context.Context, d Descriptor) error {
	q.parked = append(q.parked, d)
	return q.err
}

func noSleep(delays *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	})
}

func mustGet(t *testing.T, endpoint string, opts ...DescriptorOption) Descriptor {
	t.Helper()
	d, err := Get(endpoint, opts...)
	require.NoError(t, err)
	return d
}

func TestGateway_CacheTTLScenario(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){ok(`{"accounts":["P"]}`)}}
	g := New(exec, WithCacheStore(cache.NewLRUCache[[]byte](100, 5*time.Minute, cache.WithClock(clock.Now))))
	d := mustGet(t, "/api/accounts")

	p0, err := g.Request(context.Background(), d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":["P"]}`, string(p0))
	assert.Equal(t, 1, exec.count())

	clock.Advance(3 * time.Minute)
	p3, err := g.Request(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, string(p0), string(p3))
	assert.Equal(t, 1, exec.count(), "served from cache at 3 minutes")

	clock.Advance(3 * time.Minute)
	_, err = g.Request(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 2, exec.count(), "network call after TTL elapsed")
}

func TestGateway_CacheReturnsCopy(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){ok(`[1]`)}}
	g := New(exec)
	d := mustGet(t, "/api/goals")

	first, err := g.Request(context.Background(), d)
	require.NoError(t, err)
	first[0] = 'X'

	second, err := g.Request(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(second))
}

func TestGateway_NonCacheableSkipsCache(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){ok(`[]`)}}
	g := New(exec)
	d := mustGet(t, "/api/notifications/unread", WithCache(false))

	for i := 0; i < 3; i++ {
		_, err := g.Request(context.Background(), d)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, exec.count())
}

func TestGateway_RetriesTransient(t *testing.T) {
	var delays []time.Duration
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){
		fails(KindTransient, 503),
		fails(KindTransient, 0),
		ok(`{"ok":true}`),
	}}
	g := New(exec, noSleep(&delays))

	payload, err := g.Request(context.Background(), mustGet(t, "/api/budgets"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
	assert.Equal(t, 3, exec.count())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, delays, "fixed backoff")
}

func TestGateway_RetryBudgetExhausted(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(KindTransient, 500)}}
	g := New(exec, noSleep(nil))

	_, err := g.Request(context.Background(), mustGet(t, "/api/budgets"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 4, exec.count(), "first attempt plus three retries")
}

func TestGateway_DoesNotRetryPermanentOrTimeout(t *testing.T) {
	for _, kind := range []Kind{KindPermanent, KindTimeout, KindAuthRequired} {
		t.Run(kind.String(), func(t *testing.T) {
			exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(kind, 0)}}
			g := New(exec, noSleep(nil))
			_, err := g.Request(context.Background(), mustGet(t, "/api/goals"))
			assert.Equal(t, kind, KindOf(err))
			assert.Equal(t, 1, exec.count())
		})
	}
}

func TestGateway_DescriptorRetryOverride(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(KindTransient, 502)}}
	g := New(exec, noSleep(nil))

	_, err := g.Request(context.Background(), mustGet(t, "/api/goals", NoRetry()))
	assert.Error(t, err)
	assert.Equal(t, 1, exec.count())

	exec2 := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(KindTransient, 502)}}
	g2 := New(exec2, noSleep(nil))
	_, _ = g2.Request(context.Background(), mustGet(t, "/api/goals", WithRetry(RetryPolicy{MaxRetries: 1})))
	assert.Equal(t, 2, exec2.count())
}

func TestGateway_UnauthorizedClearsCacheAndRunsHooks(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){
		ok(`[1]`),
		fails(KindUnauthorized, 401),
	}}
	g := New(exec, noSleep(nil))

	_, err := g.Request(context.Background(), mustGet(t, "/api/accounts"))
	require.NoError(t, err)
	assert.Equal(t, 1, g.CacheStats().Size)

	var hooks int
	g.OnUnauthorized(func(context.Context) { hooks++ })

	_, err = g.Request(context.Background(), mustGet(t, "/api/goals"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, hooks)
	assert.Equal(t, 0, g.CacheStats().Size)
	assert.Equal(t, 2, exec.count(), "401 is never retried")
}

func TestGateway_OfflineMutationGoesToQueue(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(KindTransient, 0)}}
	conn := &staticConn{}
	q := &recordingQueue{result: []byte(`{"id":"t1"}`)}
	g := New(exec, WithConnectivity(conn), noSleep(nil))
	g.SetOfflineQueue(q)

	d, err := Post("/api/transactions", map[string]any{"amount": 5})
	require.NoError(t, err)

	payload, err := g.Request(context.Background(), d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t1"}`, string(payload))
	require.Len(t, q.submitted, 1)
	assert.Equal(t, d.CacheKey(), q.submitted[0].CacheKey())
	assert.Equal(t, 1, exec.count(), "no retries once handed to the queue")
}

func TestGateway_OfflineGetIsNotQueued(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(KindTransient, 0)}}
	q := &recordingQueue{}
	g := New(exec, WithConnectivity(&staticConn{}), noSleep(nil))
	g.SetOfflineQueue(q)

	_, err := g.Request(context.Background(), mustGet(t, "/api/accounts"))
	assert.ErrorIs(t, err, ErrTransient)
	assert.Empty(t, q.submitted)
}

func TestGateway_OnlineMutationFailureIsRetriedNotQueued(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(KindTransient, 0)}}
	conn := &staticConn{}
	conn.online.Store(true)
	q := &recordingQueue{}
	g := New(exec, WithConnectivity(conn), noSleep(nil))
	g.SetOfflineQueue(q)

	d, _ := Delete("/api/goals/1")
	_, err := g.Request(context.Background(), d)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Empty(t, q.submitted)
	assert.Equal(t, 4, exec.count())
}

func TestGateway_QueueRejectionPropagates(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(KindTransient, 0)}}
	q := &recordingQueue{err: &Error{Kind: KindQueueExhausted}}
	g := New(exec, WithConnectivity(&staticConn{}), noSleep(nil))
	g.SetOfflineQueue(q)

	d, _ := Put("/api/accounts/1", map[string]string{"name": "x"})
	_, err := g.Request(context.Background(), d)
	assert.ErrorIs(t, err, ErrQueueExhausted)
}

func TestGateway_WriteInvalidatesCollection(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){ok(`[]`)}}
	g := New(exec)

	_, _ = g.Request(context.Background(), mustGet(t, "/api/accounts"))
	_, _ = g.Request(context.Background(), mustGet(t, "/api/accounts/7"))
	_, _ = g.Request(context.Background(), mustGet(t, "/api/goals"))
	require.Equal(t, 3, g.CacheStats().Size)

	d, _ := Put("/api/accounts/7", map[string]string{"name": "n"})
	_, err := g.Request(context.Background(), d)
	require.NoError(t, err)

	stats := g.CacheStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, []string{"GET:/api/goals:{}"}, stats.Keys)
}

func TestGateway_ContextCancelDuringBackoff(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(KindTransient, 503)}}
	g := New(exec, WithDefaultRetry(RetryPolicy{MaxRetries: 3, Delay: time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := g.Request(ctx, mustGet(t, "/api/budgets"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, exec.count())
}

func TestGateway_NonGatewayErrorPropagates(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){
		func(Descriptor) ([]byte, error) { return nil, context.Canceled },
	}}
	g := New(exec, noSleep(nil))
	_, err := g.Request(context.Background(), mustGet(t, "/api/budgets"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, exec.count())
}

func TestGateway_ClearCacheFor(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){ok(`{}`)}}
	g := New(exec)
	_, _ = g.Request(context.Background(), mustGet(t, "/api/dashboard/summary"))
	_, _ = g.Request(context.Background(), mustGet(t, "/api/dashboard/upcoming-bills?days=3"))
	_, _ = g.Request(context.Background(), mustGet(t, "/api/categories"))

	assert.Equal(t, 2, g.ClearCacheFor("/api/dashboard"))
	g.ClearCache()
	assert.Equal(t, 0, g.CacheStats().Size)
}

func TestGateway_InvalidDescriptor(t *testing.T) {
	g := New(&scriptedExec{steps: []func(Descriptor) ([]byte, error){ok(`{}`)}})
	_, err := g.Request(context.Background(), Descriptor{Method: http.MethodGet})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = g.Request(context.Background(), Descriptor{Method: "PATCH", Endpoint: "/x"})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestDescriptor(t *testing.T) {
	d, err := Post("/api/transactions", map[string]any{"b": 2, "a": 1}, WithHeader("X-Trace", "1"))
	require.NoError(t, err)
	assert.True(t, d.IsMutating())
	assert.False(t, d.Cacheable)
	assert.True(t, d.RequiresAuth)
	assert.Equal(t, `POST:/api/transactions:{"a":1,"b":2}`, d.CacheKey())

	g := mustGet(t, "/api/accounts")
	assert.Equal(t, "GET:/api/accounts:{}", g.CacheKey())
	assert.True(t, g.Cacheable)

	nr := d.WithoutRetry()
	nr.Headers["X-Trace"] = "changed"
	assert.Equal(t, "1", d.Headers["X-Trace"], "copy does not share headers")
	assert.Nil(t, d.Retry)
	assert.True(t, nr.Retry.Disabled)

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	var back Descriptor
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d.CacheKey(), back.CacheKey())

	assert.Equal(t, "/api/accounts", Descriptor{Endpoint: "/api/accounts/7?x=1"}.resource())
	assert.Equal(t, "/health", Descriptor{Endpoint: "/health"}.resource())

	_, err = Post("/x", func() {})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	unauth, err := Get("/api/auth/validate", WithoutAuth())
	require.NoError(t, err)
	assert.False(t, unauth.RequiresAuth)
}

func TestGateway_OfflineDetachedMutationIsParked(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){fails(KindTransient, 0)}}
	q := &recordingQueue{}
	g := New(exec, WithConnectivity(&staticConn{}), noSleep(nil))
	g.SetOfflineQueue(q)

	d, err := Post("/api/notifications", map[string]string{"title": "t"}, Detached())
	require.NoError(t, err)

	payload, err := g.Request(context.Background(), d)
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.Empty(t, q.submitted, "detached calls never wait on the queue")
	require.Len(t, q.parked, 1)
	assert.True(t, q.parked[0].Detached)
}

func TestGateway_WriteKeepsSiblingCollections(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){ok(`[]`)}}
	g := New(exec)

	_, _ = g.Request(context.Background(), mustGet(t, "/api/accounts"))
	_, _ = g.Request(context.Background(), mustGet(t, "/api/accounts?limit=5"))
	_, _ = g.Request(context.Background(), mustGet(t, "/api/accounts-summary"))
	require.Equal(t, 3, g.CacheStats().Size)

	d, _ := Post("/api/accounts", map[string]string{"name": "n"})
	_, err := g.Request(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, []string{"GET:/api/accounts-summary:{}"}, g.CacheStats().Keys)
}

func TestGateway_ReplayerSignsOutOn401(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){
		ok(`[1]`),
		fails(KindUnauthorized, 401),
	}}
	g := New(exec, noSleep(nil))
	_, err := g.Request(context.Background(), mustGet(t, "/api/goals"))
	require.NoError(t, err)

	var hooks int
	g.OnUnauthorized(func(context.Context) { hooks++ })

	d, _ := Post("/api/transactions", map[string]int{"amount": 1})
	_, err = g.Replayer().Execute(context.Background(), d)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, hooks)
	assert.Equal(t, 0, g.CacheStats().Size)
	assert.Equal(t, 2, exec.count())
}

func TestGateway_ReplayerInvalidatesOnSuccess(t *testing.T) {
	exec := &scriptedExec{steps: []func(Descriptor) ([]byte, error){ok(`[]`)}}
	g := New(exec)
	_, _ = g.Request(context.Background(), mustGet(t, "/api/transactions"))
	_, _ = g.Request(context.Background(), mustGet(t, "/api/goals"))

	d, _ := Post("/api/transactions", map[string]int{"amount": 1})
	payload, err := g.Replayer().Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(payload))
	assert.Equal(t, []string{"GET:/api/goals:{}"}, g.CacheStats().Keys)
}
