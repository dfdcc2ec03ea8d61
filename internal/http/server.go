// Package http serves the realtime side of WealthFlow: the health probe, the
// websocket hub, the authenticated push endpoint and Prometheus metrics.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"wealthflow/internal/identity"
	"wealthflow/internal/log"
	"wealthflow/internal/metrics"
	"wealthflow/internal/middleware/ratelimit"
	"wealthflow/internal/middleware/security"
	"wealthflow/internal/middleware/trace"
	"wealthflow/internal/realtime"
)

// ServiceName is reported by the health endpoint
const ServiceName = "WealthFlow API"

const defaultMaxBodyBytes = 64 << 10

// Emitter delivers an event to every socket of a user on this instance
type Emitter interface {
	EmitToUser(userID, eventType string, payload any) (int, error)
}

// Publisher hands an event to the bus so every server instance can emit it
type Publisher interface {
	PublishUserEvent(ctx context.Context, userID, eventType string, payload any) error
}

// Config holds the listener settings
type Config struct {
	Addr           string
	Environment    string
	AllowedOrigins []string
	PushRateLimit  int // per user per minute
	MaxBodyBytes   int64
}

// Server wraps http.Server with the application routes
type Server struct {
	*http.Server

	hub         http.Handler
	emitter     Emitter
	publisher   Publisher
	provider    identity.Provider
	environment string
	maxBody     int64

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger
	started  time.Time
	now      func() time.Time
}

// Option customizes a Server
type Option func(*Server)

// WithPublisher routes pushes through the event bus instead of the local hub
func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer wires the routes. hub serves /ws; emitter receives direct pushes
// and is normally the same *realtime.Hub.
func NewServer(cfg Config, hub *realtime.Hub, provider identity.Provider, opts ...Option) *Server {
	s := &Server{
		hub:         hub,
		emitter:     hub,
		provider:    provider,
		environment: cfg.Environment,
		maxBody:     cfg.MaxBodyBytes,
		detector:    security.NewDetector(),
		started:     time.Now(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNop(s.logger).WithComponent(log.ComponentHTTP)
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}
	s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.PushRateLimit})
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, s.logger)

	s.Server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/ws", s.hub).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)
	api.Use(s.limiter.Middleware(userKey, s.handleRateLimited))
	api.HandleFunc("/push", s.handlePush).Methods(http.MethodPost)

	var h http.Handler = r
	h = metrics.InstrumentHandler(h)
	h = security.CORS(allowedOrigins)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.tracer.Middleware(h)
	h = s.detector.Middleware(s.logger)(h)
	return h
}

// Shutdown stops accepting requests, closes every websocket and waits for
// in-flight handlers until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Shutting down HTTP server", log.FieldOperation, log.OpShutdown)
	s.limiter.Stop()
	if closer, ok := s.hub.(interface{ Close() }); ok {
		closer.Close()
	}
	return s.Server.Shutdown(ctx)
}

// Uptime reports how long the server has been running
func (s *Server) Uptime() time.Duration {
	return s.now().Sub(s.started)
}
