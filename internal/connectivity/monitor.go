// Package connectivity tracks whether the WealthFlow API is reachable.
package connectivity

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"wealthflow/internal/log"
)

// Monitor holds the online flag and notifies subscribers on transitions
type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   []subscription
	logger *log.Logger
}

type subscription struct {
	id int
	fn func(online bool)
}

func NewMonitor(initial bool, logger *log.Logger) *Monitor {
	return &Monitor{
		online: initial,
		logger: log.OrNop(logger).WithComponent(log.ComponentConnectivity),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the current state. Subscribers run only when it changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := append([]subscription(nil), m.subs...)
	m.mu.Unlock()

	if online {
		m.logger.Info("Connection restored")
	} else {
		m.logger.Warn("Connection lost")
	}
	for _, s := range subs {
		s.fn(online)
	}
}

// Subscribe registers fn for transitions and returns its unsubscribe func
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Prober polls the health endpoint and feeds a Monitor
type Prober struct {
	url      string
	client   *http.Client
	interval time.Duration
	monitor  *Monitor
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewProber(baseURL string, interval time.Duration, monitor *Monitor, logger *log.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		url:      strings.TrimRight(baseURL, "/") + "/health",
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: interval,
		monitor:  monitor,
		logger:   log.OrNop(logger).WithComponent(log.ComponentConnectivity),
	}
}

// Check probes once and updates the monitor
func (p *Prober) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.monitor.Set(false)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Health probe failed", log.FieldError, err.Error())
		p.monitor.Set(false)
		return false
	}
	resp.Body.Close()
	online := resp.StatusCode < 500
	p.monitor.Set(online)
	return online
}

// Start begins periodic probing; an initial probe runs immediately
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run(ctx, p.stopCh, p.doneCh)
}

func (p *Prober) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()
	<-doneCh
}
