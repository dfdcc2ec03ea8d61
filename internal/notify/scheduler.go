package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wealthflow/internal/config"
	"wealthflow/internal/log"
)

// SchedulerConfig holds the periodic check intervals
type SchedulerConfig struct {
	// PollInterval is how often new server notifications are fetched (default: 60s)
	PollInterval time.Duration

	// CheckInterval is how often thresholds are evaluated (default: 30s)
	CheckInterval time.Duration

	Location *time.Location
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:  60 * time.Second,
		CheckInterval: 30 * time.Second,
		Location:      time.Local,
	}
}

// Scheduler runs the engine's periodic jobs: server refresh, threshold
// checks and the daily summary at the configured schedule time.
type Scheduler struct {
	engine *Engine
	config SchedulerConfig
	logger *log.Logger

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	daily   cron.EntryID
}

func NewScheduler(engine *Engine, config SchedulerConfig, logger *log.Logger) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.Location == nil {
		config.Location = def.Location
	}
	return &Scheduler{
		engine: engine,
		config: config,
		logger: log.OrNop(logger).WithComponent(log.ComponentNotify),
	}
}

// DailySpec converts an HH:MM schedule time to a cron spec
func DailySpec(scheduleTime string) (string, error) {
	if !config.ValidScheduleTime(scheduleTime) {
		return "", fmt.Errorf("invalid schedule time %q: must be HH:MM", scheduleTime)
	}
	hh, mm, _ := strings.Cut(scheduleTime, ":")
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// Start registers the jobs and starts the cron runner. Returns an error if
// already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("notification scheduler is already running")
	}

	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.config.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := c.AddFunc(every(s.config.PollInterval), s.refresh); err != nil {
		s.cancel()
		return fmt.Errorf("schedule refresh: %w", err)
	}
	if _, err := c.AddFunc(every(s.config.CheckInterval), s.check); err != nil {
		s.cancel()
		return fmt.Errorf("schedule threshold checks: %w", err)
	}
	s.cron = c
	if err := s.scheduleDaily(s.engine.Settings().ScheduleTime); err != nil {
		s.cancel()
		s.cron = nil
		return err
	}

	c.Start()
	s.running = true
	s.logger.InfoContext(ctx, "Notification scheduler started",
		"poll_interval", s.config.PollInterval,
		"check_interval", s.config.CheckInterval)
	return nil
}

// Stop halts the runner and waits for running jobs, or for ctx to end
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
		s.logger.InfoContext(ctx, "Notification scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Notification scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reschedule moves the daily summary to a new HH:MM time
func (s *Scheduler) Reschedule(scheduleTime string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	return s.scheduleDaily(scheduleTime)
}

func (s *Scheduler) scheduleDaily(scheduleTime string) error {
	spec, err := DailySpec(scheduleTime)
	if err != nil {
		return err
	}
	id, err := s.cron.AddFunc(spec, s.summary)
	if err != nil {
		return fmt.Errorf("schedule daily summary: %w", err)
	}
	if s.daily != 0 {
		s.cron.Remove(s.daily)
	}
	s.daily = id
	return nil
}

// Next reports when the daily summary runs next
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil || s.daily == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.daily).Next
}

func (s *Scheduler) refresh() {
	n, err := s.engine.Refresh(s.ctx)
	if err != nil {
		s.logger.Warn("Notification refresh failed", log.FieldError, err.Error())
		return
	}
	if n > 0 {
		s.logger.Debug("New server notifications", "count", n)
	}
}

func (s *Scheduler) check() {
	created, err := s.engine.CheckThresholds(s.ctx)
	if err != nil {
		s.logger.Warn("Threshold check incomplete", log.FieldError, err.Error())
	}
	if len(created) > 0 {
		s.logger.Info("Threshold notifications created", "count", len(created))
	}
}

func (s *Scheduler) summary() {
	if !s.engine.Settings().Enabled {
		return
	}
	if _, err := s.engine.DailySummary(s.ctx); err != nil {
		s.logger.Warn("Daily summary failed", log.FieldError, err.Error())
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's own logging through the application logger
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, log.FieldError, err.Error())...)
}
