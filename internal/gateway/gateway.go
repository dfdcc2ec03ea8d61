package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"wealthflow/internal/cache"
	"wealthflow/internal/log"
	"wealthflow/internal/metrics"
)

// OfflineQueue takes over mutations that cannot reach the server. Submit blocks
// until the queued item is resolved or rejected; Park only persists it.
type OfflineQueue interface {
	Submit(ctx context.Context, d Descriptor) ([]byte, error)
	Park(ctx context.Context, d Descriptor) error
}

// Connectivity reports whether the network is believed to be up
type Connectivity interface {
	Online() bool
}

// Gateway is the entry point for every REST call the client makes
type Gateway struct {
	exec   Executor
	cache  *cache.LRUCache[[]byte]
	conn   Connectivity
	retry  RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	logger *log.Logger
	slog   *log.StructuredLogger

	invalidateOnWrite bool

	mu             sync.RWMutex
	queue          OfflineQueue
	onUnauthorized []func(ctx context.Context)
}

// Option configures a Gateway
type Option func(*Gateway)

func WithCacheStore(c *cache.LRUCache[[]byte]) Option {
	return func(g *Gateway) { g.cache = c }
}

func WithConnectivity(c Connectivity) Option {
	return func(g *Gateway) { g.conn = c }
}

func WithDefaultRetry(p RetryPolicy) Option {
	return func(g *Gateway) { g.retry = p }
}

func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithSleep replaces the backoff wait, for tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = fn }
}

// WithWriteInvalidation controls whether successful mutations purge cached reads of the same collection
func WithWriteInvalidation(on bool) Option {
	return func(g *Gateway) { g.invalidateOnWrite = on }
}

func New(exec Executor, opts ...Option) *Gateway {
	g := &Gateway{
		exec:              exec,
		retry:             DefaultRetryPolicy(),
		sleep:             sleepContext,
		invalidateOnWrite: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = cache.NewLRUCache[[]byte](100, 5*time.Minute)
	}
	g.logger = log.OrNop(g.logger).WithComponent(log.ComponentGateway)
	g.slog = log.NewStructuredLogger(g.logger)
	return g
}

// SetOfflineQueue installs the queue after construction; the queue replays through Replayer
func (g *Gateway) SetOfflineQueue(q OfflineQueue) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = q
}

// OnUnauthorized registers a hook run whenever the server rejects the token
func (g *Gateway) OnUnauthorized(fn func(ctx context.Context)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onUnauthorized = append(g.onUnauthorized, fn)
}

// Request resolves d from cache, the network, or the offline queue
func (g *Gateway) Request(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	useCache := d.Cacheable && !d.IsMutating()
	if useCache {
		if payload, ok := g.cache.Get(d.CacheKey()); ok {
			metrics.RecordGatewayRequest(d.Method, "cache_hit", 0)
			return append(json.RawMessage(nil), payload...), nil
		}
	}

	policy := g.retry
	if d.Retry != nil {
		policy = *d.Retry
	}
	maxRetries := policy.MaxRetries
	if policy.Disabled || maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		start := time.Now()
		payload, err := g.exec.Execute(ctx, d)
		if err == nil {
			metrics.RecordGatewayRequest(d.Method, "success", time.Since(start))
			g.afterSuccess(d, payload)
			return payload, nil
		}
		lastErr = err

		var gerr *Error
		if !errors.As(err, &gerr) {
			// context cancellation or a non-network failure
			metrics.RecordGatewayRequest(d.Method, "cancelled", time.Since(start))
			return nil, err
		}
		metrics.RecordGatewayRequest(d.Method, gerr.Kind.String(), time.Since(start))

		if gerr.Kind == KindUnauthorized {
			g.handleUnauthorized(ctx)
			return nil, err
		}

		if q := g.offlineTarget(d, gerr); q != nil {
			return g.enqueue(ctx, q, d)
		}

		if !gerr.Retryable() || attempt == maxRetries {
			break
		}

		metrics.RecordGatewayRetry()
		g.logger.DebugContext(ctx, "Retrying request",
			log.FieldMethod, d.Method,
			log.FieldEndpoint, d.Endpoint,
			log.FieldAttempt, attempt+1,
			log.FieldError, err.Error())
		if err := g.sleep(ctx, policy.Delay); err != nil {
			return nil, err
		}
	}

	g.slog.LogAPIFailure(ctx, d.Method, d.Endpoint, maxRetries+1, lastErr)
	return nil, lastErr
}

// offlineTarget returns the queue when a failed mutation should be parked
func (g *Gateway) offlineTarget(d Descriptor, gerr *Error) OfflineQueue {
	if !d.IsMutating() || !gerr.IsNetwork() || g.conn == nil || g.conn.Online() {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.queue
}

func (g *Gateway) enqueue(ctx context.Context, q OfflineQueue, d Descriptor) (json.RawMessage, error) {
	metrics.RecordGatewayRequest(d.Method, "queued", 0)
	g.logger.InfoContext(ctx, "Offline, queueing mutation",
		log.FieldMethod, d.Method,
		log.FieldEndpoint, d.Endpoint)
	if d.Detached {
		return nil, q.Park(ctx, d)
	}
	payload, err := q.Submit(ctx, d)
	if err != nil {
		return nil, err
	}
	g.afterSuccess(d, payload)
	return payload, nil
}

func (g *Gateway) afterSuccess(d Descriptor, payload []byte) {
	if !d.IsMutating() {
		if d.Cacheable {
			g.cache.Set(d.CacheKey(), append([]byte(nil), payload...))
		}
		return
	}
	if g.invalidateOnWrite {
		if res := d.resource(); res != "" {
			g.clearResource(res)
		}
	}
}

// Replayer returns an Executor for the offline queue. Each call is a single
// attempt that still signs out on 401 and invalidates cached reads on success.
func (g *Gateway) Replayer() Executor {
	return replayer{g: g}
}

type replayer struct {
	g *Gateway
}

func (r replayer) Execute(ctx context.Context, d Descriptor) ([]byte, error) {
	start := time.Now()
	payload, err := r.g.exec.Execute(ctx, d)
	if err != nil {
		var gerr *Error
		if errors.As(err, &gerr) {
			metrics.RecordGatewayRequest(d.Method, gerr.Kind.String(), time.Since(start))
			if gerr.Kind == KindUnauthorized {
				r.g.handleUnauthorized(ctx)
			}
		}
		return nil, err
	}
	metrics.RecordGatewayRequest(d.Method, "replayed", time.Since(start))
	r.g.afterSuccess(d, payload)
	return payload, nil
}

func (g *Gateway) handleUnauthorized(ctx context.Context) {
	g.cache.Clear()
	g.mu.RLock()
	hooks := slices.Clone(g.onUnauthorized)
	g.mu.RUnlock()

	g.logger.WarnContext(ctx, "Token rejected by server, clearing credentials")
	for _, hook := range hooks {
		hook(ctx)
	}
}

// ClearCache drops every cached response
func (g *Gateway) ClearCache() {
	g.cache.Clear()
}

// clearResource drops cached reads of res and its members, leaving sibling
// collections that merely share a prefix
func (g *Gateway) clearResource(res string) int {
	return g.cache.DeleteMatching(func(key string) bool {
		return strings.Contains(key, ":"+res+":") ||
			strings.Contains(key, ":"+res+"/") ||
			strings.Contains(key, ":"+res+"?")
	})
}

// ClearCacheFor drops cached responses whose key contains substr
func (g *Gateway) ClearCacheFor(substr string) int {
	return g.cache.DeleteMatching(func(key string) bool {
		return strings.Contains(key, substr)
	})
}

// CacheStats reports the response cache contents
func (g *Gateway) CacheStats() cache.Stats {
	return g.cache.Stats()
}

// Cache exposes the response cache so a cache.Manager can sweep it
func (g *Gateway) Cache() *cache.LRUCache[[]byte] {
	return g.cache
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
