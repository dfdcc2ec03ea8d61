// Package offline parks mutations that could not reach the server and
// replays them once connectivity returns.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"wealthflow/internal/gateway"
	"wealthflow/internal/log"
	"wealthflow/internal/metrics"
	"wealthflow/internal/storage"
)

// ErrClosed is returned to callers still waiting when the queue shuts down.
// Their items stay persisted for the next run.
var ErrClosed = errors.New("offline queue closed")

// Connectivity is the slice of connectivity.Monitor the queue needs
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) func()
}

// Item is one parked mutation
type Item struct {
	ID         string             `json:"id"`
	Descriptor gateway.Descriptor `json:"descriptor"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
	Attempts   int                `json:"attempts"`
}

// Pending resolves when its item is replayed or rejected
type Pending struct {
	id      string
	done    chan struct{}
	payload []byte
	err     error
}

func newPending(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

func (p *Pending) ID() string { return p.id }

// Done is closed once the item has an outcome
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the item has an outcome or ctx ends. Giving up the wait
// leaves the item queued.
func (p *Pending) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
		return p.payload, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) settle(payload []byte, err error) {
	p.payload, p.err = payload, err
	close(p.done)
}

// DrainResult summarizes one drain pass
type DrainResult struct {
	Resolved int
	Requeued int
	Rejected int
}

// Queue is the durable FIFO of offline mutations
type Queue struct {
	kv          storage.KV
	exec        gateway.Executor
	conn        Connectivity
	limiter     *rate.Limiter
	maxAttempts int
	logger      *log.Logger
	now         func() time.Time

	mu       sync.Mutex
	items    []Item
	waiters  map[string]*Pending
	draining bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  func()
}

// Option configures a Queue
type Option func(*Queue)

func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithDrainDelay sets the pause between replayed items
func WithDrainDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d <= 0 {
			q.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		q.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithConnectivity makes the queue drain on every offline to online transition
func WithConnectivity(c Connectivity) Option {
	return func(q *Queue) { q.conn = c }
}

func WithLogger(l *log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New loads any persisted items. Items restored this way have no waiter.
func New(ctx context.Context, kv storage.KV, exec gateway.Executor, opts ...Option) (*Queue, error) {
	q := &Queue{
		kv:          kv,
		exec:        exec,
		maxAttempts: 3,
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		now:         time.Now,
		waiters:     make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = log.OrNop(q.logger).WithComponent(log.ComponentOffline)
	q.ctx, q.cancel = context.WithCancel(context.Background())

	if _, err := storage.GetJSON(ctx, kv, storage.KeyRequestQueue, &q.items); err != nil {
		q.cancel()
		return nil, fmt.Errorf("failed to load request queue: %w", err)
	}
	metrics.SetQueueLength(len(q.items))
	if len(q.items) > 0 {
		q.logger.Info("Restored queued requests", log.FieldQueueLength, len(q.items))
	}

	if q.conn != nil {
		q.unsub = q.conn.Subscribe(func(online bool) {
			if online {
				q.kick()
			}
		})
	}
	return q, nil
}

// Enqueue parks d and returns a handle for its outcome
func (q *Queue) Enqueue(ctx context.Context, d gateway.Descriptor) (*Pending, error) {
	return q.enqueue(ctx, d, true)
}

// Park persists d for replay without registering a waiter
func (q *Queue) Park(ctx context.Context, d gateway.Descriptor) error {
	_, err := q.enqueue(ctx, d, false)
	return err
}

func (q *Queue) enqueue(ctx context.Context, d gateway.Descriptor, wait bool) (*Pending, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	item := Item{
		ID:         uuid.NewString(),
		Descriptor: d.WithoutRetry(),
		EnqueuedAt: q.now().UTC(),
	}
	p := newPending(item.ID)

	q.mu.Lock()
	if q.ctx.Err() != nil {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.items = append(q.items, item)
	if wait {
		q.waiters[item.ID] = p
	}
	err := q.persistLocked(ctx)
	if err != nil {
		q.items = q.items[:len(q.items)-1]
		delete(q.waiters, item.ID)
	}
	n := len(q.items)
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}

	metrics.SetQueueLength(n)
	q.logger.InfoContext(ctx, "Request queued",
		log.FieldMethod, d.Method,
		log.FieldEndpoint, d.Endpoint,
		log.FieldQueueLength, n)

	if q.online() {
		q.kick()
	}
	return p, nil
}

// Submit enqueues d and waits for its outcome
func (q *Queue) Submit(ctx context.Context, d gateway.Descriptor) ([]byte, error) {
	p, err := q.Enqueue(ctx, d)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Drain replays queued items in order until the queue is empty or the
// connection drops. Only one drain runs at a time; a second call returns at once.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	q.mu.Lock()
	if q.draining || len(q.items) == 0 || !q.online() {
		q.mu.Unlock()
		return res, nil
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	q.logger.InfoContext(ctx, "Draining request queue", log.FieldQueueLength, q.Len())
	for {
		if !q.online() {
			q.logger.InfoContext(ctx, "Went offline, pausing drain", log.FieldQueueLength, q.Len())
			return res, nil
		}
		item, ok := q.head()
		if !ok {
			return res, nil
		}
		if err := q.limiter.Wait(ctx); err != nil {
			return res, err
		}

		payload, err := q.exec.Execute(ctx, item.Descriptor)
		if err != nil && ctx.Err() != nil {
			return res, ctx.Err()
		}
		if errors.Is(err, gateway.ErrAuthRequired) {
			q.logger.InfoContext(ctx, "No token, pausing drain", log.FieldQueueLength, q.Len())
			return res, nil
		}

		switch outcome := q.settle(ctx, item, payload, err); outcome {
		case "resolved":
			res.Resolved++
		case "requeued":
			res.Requeued++
		case "rejected":
			res.Rejected++
		}
		if isUnauthorized(err) {
			q.logger.InfoContext(ctx, "Token rejected, pausing drain", log.FieldQueueLength, q.Len())
			return res, nil
		}
	}
}

// settle applies the outcome of one attempt to the head item
func (q *Queue) settle(ctx context.Context, item Item, payload []byte, execErr error) string {
	q.mu.Lock()
	if len(q.items) == 0 || q.items[0].ID != item.ID {
		q.mu.Unlock()
		return ""
	}

	var outcome string
	var waiter *Pending
	var finalErr error
	switch {
	case execErr == nil:
		outcome = "resolved"
		q.items = q.items[1:]
		waiter = q.waiters[item.ID]
		delete(q.waiters, item.ID)
	case isUnauthorized(execErr):
		// the token is gone; replaying again cannot succeed
		item.Attempts++
		outcome = "rejected"
		finalErr = execErr
		q.items = q.items[1:]
		waiter = q.waiters[item.ID]
		delete(q.waiters, item.ID)
	default:
		item.Attempts++
		q.items = q.items[1:]
		if item.Attempts >= q.maxAttempts {
			outcome = "rejected"
			finalErr = exhausted(item, execErr)
			waiter = q.waiters[item.ID]
			delete(q.waiters, item.ID)
		} else {
			outcome = "requeued"
			q.items = append(q.items, item)
		}
	}
	if err := q.persistLocked(ctx); err != nil {
		q.logger.WarnContext(ctx, "Failed to persist request queue", log.FieldError, err.Error())
	}
	n := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueLength(n)
	metrics.RecordQueueOutcome(outcome)

	d := item.Descriptor
	switch outcome {
	case "resolved":
		q.logger.InfoContext(ctx, "Queued request delivered",
			log.FieldMethod, d.Method, log.FieldEndpoint, d.Endpoint)
		if waiter != nil {
			waiter.settle(payload, nil)
		}
	case "requeued":
		q.logger.DebugContext(ctx, "Queued request failed, moved to tail",
			log.FieldMethod, d.Method, log.FieldEndpoint, d.Endpoint,
			log.FieldAttempt, item.Attempts, log.FieldError, execErr.Error())
	case "rejected":
		q.logger.WarnContext(ctx, "Queued request dropped",
			log.FieldMethod, d.Method, log.FieldEndpoint, d.Endpoint,
			log.FieldAttempt, item.Attempts, log.FieldError, execErr.Error())
		if waiter != nil {
			waiter.settle(nil, finalErr)
		}
	}
	return outcome
}

func exhausted(item Item, last error) error {
	e := &gateway.Error{
		Kind:     gateway.KindQueueExhausted,
		Method:   item.Descriptor.Method,
		Endpoint: item.Descriptor.Endpoint,
		Message:  fmt.Sprintf("gave up after %d attempts", item.Attempts),
		Err:      last,
	}
	var gerr *gateway.Error
	if errors.As(last, &gerr) {
		e.Status = gerr.Status
	}
	return e
}

func isUnauthorized(err error) bool {
	var gerr *gateway.Error
	return errors.As(err, &gerr) && gerr.Kind == gateway.KindUnauthorized
}

func (q *Queue) head() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

func (q *Queue) online() bool {
	return q.conn == nil || q.conn.Online()
}

// kick starts a background drain
func (q *Queue) kick() {
	q.mu.Lock()
	if q.ctx.Err() != nil {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		if _, err := q.Drain(q.ctx); err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Warn("Background drain stopped", log.FieldError, err.Error())
		}
	}()
}

func (q *Queue) persistLocked(ctx context.Context) error {
	items := q.items
	if items == nil {
		items = []Item{}
	}
	if err := storage.PutJSON(ctx, q.kv, storage.KeyRequestQueue, items); err != nil {
		return fmt.Errorf("failed to persist request queue: %w", err)
	}
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the queue in replay order
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.items...)
}

// Close stops background drains and releases every waiter with ErrClosed.
// Queued items stay persisted.
func (q *Queue) Close() {
	q.mu.Lock()
	q.cancel()
	q.mu.Unlock()
	if q.unsub != nil {
		q.unsub()
	}
	q.wg.Wait()

	q.mu.Lock()
	waiters := q.waiters
	q.waiters = make(map[string]*Pending)
	q.mu.Unlock()
	for _, p := range waiters {
		p.settle(nil, ErrClosed)
	}
}
