package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wealthflow/internal/log"
	"wealthflow/internal/metrics"
)

// ConnState is the channel's position in its lifecycle
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Authenticated
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// TokenSource supplies the bearer token sent on connect
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ChannelConfig configures a client Channel. MaxReconnects of zero disables reconnecting.
type ChannelConfig struct {
	URL              string
	Tokens           TokenSource
	MaxReconnects    int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration
	WelcomeTimeout   time.Duration
	Logger           *log.Logger
	OnState          func(ConnState)
}

// Channel is the client side of the realtime connection
type Channel struct {
	cfg    ChannelConfig
	router *Router
	dialer websocket.Dialer
	logger *log.Logger
	jitter func() float64

	mu      sync.Mutex
	state   ConnState
	conn    *websocket.Conn
	lastSeq uint64
	err     error
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex
}

func NewChannel(cfg ChannelConfig, router *Router) *Channel {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WelcomeTimeout <= 0 {
		cfg.WelcomeTimeout = 10 * time.Second
	}
	if router == nil {
		router = NewRouter(Handlers{}, cfg.Logger)
	}
	return &Channel{
		cfg:    cfg,
		router: router,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: log.OrNop(cfg.Logger).WithComponent(log.ComponentRealtime),
		jitter: rand.Float64,
		done:   make(chan struct{}),
	}
}

// Backoff is base*2^attempt capped at max, with plus or minus 20% jitter.
// r must be in [0,1).
func Backoff(attempt int, base, max time.Duration, r float64) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}
	return time.Duration(d * (0.8 + 0.4*r))
}

// Start connects and waits for the server's welcome. After that the channel
// keeps itself connected in the background until ctx ends or Close is called.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("realtime channel already started")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	conn, err := c.session(c.ctx)
	if err != nil {
		c.setErr(err)
		c.setState(Disconnected)
		c.cancel()
		close(c.done)
		return err
	}
	go c.loop(conn)
	return nil
}

func (c *Channel) session(ctx context.Context) (*websocket.Conn, error) {
	c.setState(Connecting)

	var token string
	if c.cfg.Tokens != nil {
		tok, err := c.cfg.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoToken, err)
		}
		token = tok
	}
	if token == "" {
		return nil, ErrNoToken
	}

	target, err := c.url(token)
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrAuthFailed, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.WelcomeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, fmt.Errorf("%w: closed with %d %s", ErrAuthFailed, ce.Code, ce.Text)
		}
		return nil, fmt.Errorf("await welcome: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil || env.Type != TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected %s frame, got %q", TypeWelcome, msg)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var w Welcome
	_ = json.Unmarshal(env.Payload, &w)

	c.mu.Lock()
	c.conn = conn
	c.err = nil
	c.mu.Unlock()
	if ctx.Err() != nil {
		c.detachQuiet(conn)
		return nil, ctx.Err()
	}
	c.setState(Authenticated)
	metrics.AddRealtimeConnections(1)
	c.logger.Info("Realtime channel authenticated", log.FieldUserID, w.UserID)
	return conn, nil
}

func (c *Channel) url(token string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	c.mu.Lock()
	if c.lastSeq > 0 {
		q.Set("since", strconv.FormatUint(c.lastSeq, 10))
	}
	c.mu.Unlock()
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) loop(conn *websocket.Conn) {
	defer close(c.done)
	for conn != nil {
		err := c.read(conn)
		c.detach(conn)
		if c.ctx.Err() != nil {
			return
		}

		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == CloseAuthFailed {
			c.setErr(fmt.Errorf("%w: %s", ErrAuthFailed, ce.Text))
			c.logger.Warn("Realtime token rejected, not reconnecting")
			return
		}
		c.logger.Warn("Realtime connection lost", log.FieldError, err.Error())
		conn = c.reconnect()
	}
}

func (c *Channel) read(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Debug("Dropping malformed frame", log.FieldError, err.Error())
			continue
		}
		if env.Seq > 0 {
			c.mu.Lock()
			if env.Seq > c.lastSeq {
				c.lastSeq = env.Seq
			}
			c.mu.Unlock()
		}
		if _, err := c.router.Dispatch(env); err != nil {
			c.logger.Warn("Event handler failed", log.FieldEventType, env.Type, log.FieldError, err.Error())
		}
	}
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.detachQuiet(conn)
	metrics.AddRealtimeConnections(-1)
	c.setState(Disconnected)
}

func (c *Channel) detachQuiet(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Channel) reconnect() *websocket.Conn {
	for attempt := 0; attempt < c.cfg.MaxReconnects; attempt++ {
		delay := Backoff(attempt, c.cfg.BaseDelay, c.cfg.MaxDelay, c.jitter())
		t := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		conn, err := c.session(c.ctx)
		if err == nil {
			return conn
		}
		c.setState(Disconnected)
		if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrNoToken) || c.ctx.Err() != nil {
			c.setErr(err)
			return nil
		}
		c.logger.Debug("Reconnect attempt failed",
			log.FieldAttempt, attempt+1,
			log.FieldError, err.Error())
	}
	if c.cfg.MaxReconnects > 0 {
		c.setErr(ErrReconnectExhausted)
	}
	return nil
}

// Send writes one frame. It returns false, without error, unless the channel is authenticated.
func (c *Channel) Send(eventType string, payload any) bool {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != Authenticated {
		return false
	}
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return false
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return false
	}
	metrics.RecordRealtimeEvent(metricType(eventType), "out")
	return true
}

func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastSeq is the resume cursor sent on reconnect
func (c *Channel) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Err is why the channel stopped, or nil while it is running
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the channel stops for good
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close disconnects and stops reconnecting
func (c *Channel) Close() {
	c.mu.Lock()
	started, cancel := c.started, c.cancel
	c.mu.Unlock()
	if !started {
		return
	}
	cancel()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	<-c.done
}

func (c *Channel) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// metricType keeps the event label set bounded
func metricType(t string) string {
	switch t {
	case TypeWelcome, TypeBalanceUpdate, TypeTransferSuccess, TypeTransfer, TypeExpense, TypeNotification:
		return t
	}
	return "other"
}
