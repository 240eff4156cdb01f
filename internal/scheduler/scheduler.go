// Package scheduler implements the poll loop: one sequential pass over the
// configured services per cycle, with alert dispatch gated by cooldown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ddbot/internal/history"
	"github.com/JakeFAU/ddbot/internal/metrics"
	"github.com/JakeFAU/ddbot/internal/scraper"
)

// DefaultMaxBackoff caps the wait after consecutive all-fail cycles.
const DefaultMaxBackoff = time.Hour

// Alert outcomes, also used as metric labels.
const (
	OutcomeSent        = "sent"
	OutcomeSuppressed  = "suppressed"
	OutcomeUndelivered = "undelivered"
	OutcomeDryRun      = "dry_run"
)

// Scraper produces one result per service.
type Scraper interface {
	ScrapeService(ctx context.Context, slug string, maxAttempts int) scraper.Result
}

// Notifier delivers an alert and returns the confirmed recipients.
type Notifier interface {
	SendAlert(ctx context.Context, service string, reportCount, threshold int) []string
}

// History answers cooldown questions and records delivered alerts.
type History interface {
	InCooldown(service string, cooldown time.Duration) bool
	Record(service string, reportCount int, recipients []string) (history.Record, error)
}

// Config controls Scheduler behavior.
type Config struct {
	Services    []string
	Threshold   int
	Interval    time.Duration
	Cooldown    time.Duration
	ActiveStart int
	ActiveEnd   int
	Location    *time.Location
	JitterMin   time.Duration
	JitterMax   time.Duration
	MaxAttempts int
	MaxBackoff  time.Duration
	// HeartbeatFile is touched after every cycle with at least one success.
	HeartbeatFile string
	// DryRun scrapes and evaluates thresholds without dispatching.
	DryRun bool
}

// AlertDecision is what happened to a service that crossed the threshold.
type AlertDecision struct {
	Service     string
	ReportCount int
	Outcome     string
	Recipients  []string
	Err         error
}

// CycleReport summarizes one pass over the services.
type CycleReport struct {
	Results    []scraper.Result
	Alerts     []AlertDecision
	AnySuccess bool
	// Interrupted is set when shutdown cut the cycle short.
	Interrupted bool
}

// Scheduler owns the poll loop.
type Scheduler struct {
	cfg      Config
	scraper  Scraper
	notifier Notifier
	history  History
	clock    scraper.Clock
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(lo, hi time.Duration) time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
	last                CycleReport
	lastAt              time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithSleep replaces the context-aware wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithJitter replaces the inter-service delay source.
func WithJitter(jitter func(lo, hi time.Duration) time.Duration) Option {
	return func(s *Scheduler) {
		if jitter != nil {
			s.jitter = jitter
		}
	}
}

// New constructs a Scheduler. notifier may be nil when DryRun is set.
func New(
	cfg Config,
	scr Scraper,
	notifier Notifier,
	hist History,
	clock scraper.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	s := &Scheduler{
		cfg:      cfg,
		scraper:  scr,
		notifier: notifier,
		history:  hist,
		clock:    clock,
		logger:   logger,
		sleep:    sleepContext,
		jitter:   scraper.RandomDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run polls until ctx is canceled. It returns nil on shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("monitor started",
		zap.String("services", strings.Join(s.cfg.Services, ",")),
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("threshold", s.cfg.Threshold),
		zap.Duration("cooldown", s.cfg.Cooldown),
	)
	for {
		wait := s.cfg.Interval
		if now := s.now(); !s.WithinActiveHours(now) {
			s.logger.Debug("outside active hours, skipping poll",
				zap.Int("start", s.cfg.ActiveStart),
				zap.Int("end", s.cfg.ActiveEnd),
				zap.String("timezone", s.cfg.Location.String()),
			)
		} else {
			report := s.safeCycle(ctx)
			s.remember(report)
			if ctx.Err() != nil {
				s.logger.Info("shutdown requested, leaving poll loop")
				return nil
			}
			wait = s.afterCycle(report)
		}

		if err := s.sleep(ctx, wait); err != nil {
			s.logger.Info("shutdown requested, leaving poll loop")
			return nil
		}
	}
}

// ConsecutiveFailures returns the current all-fail streak.
func (s *Scheduler) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// LastCycle returns the most recent completed cycle and when it finished.
// ok is false until the first cycle ran.
func (s *Scheduler) LastCycle() (report CycleReport, at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt, !s.lastAt.IsZero()
}

func (s *Scheduler) remember(report CycleReport) {
	s.mu.Lock()
	s.last = report
	s.lastAt = s.now()
	s.mu.Unlock()
}

// WithinActiveHours reports whether now falls in [start, end) local hours.
func (s *Scheduler) WithinActiveHours(now time.Time) bool {
	hour := now.In(s.cfg.Location).Hour()
	return s.cfg.ActiveStart <= hour && hour < s.cfg.ActiveEnd
}

// NextWait returns the cycle wait after failures consecutive all-fail cycles.
func NextWait(interval time.Duration, failures int, maxBackoff time.Duration) time.Duration {
	wait := interval
	for i := 0; i < failures; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}

func (s *Scheduler) afterCycle(report CycleReport) time.Duration {
	s.mu.Lock()
	previous := s.consecutiveFailures
	if report.AnySuccess {
		s.consecutiveFailures = 0
	} else {
		s.consecutiveFailures++
	}
	streak := s.consecutiveFailures
	s.mu.Unlock()
	metrics.SetConsecutiveFailures(streak)

	if report.AnySuccess {
		if previous > 0 {
			s.logger.Info("poll recovered", zap.Int("after_failed_cycles", previous))
		}
		if err := s.touchHeartbeat(); err != nil {
			s.logger.Warn("heartbeat touch failed", zap.Error(err))
		}
		return s.cfg.Interval
	}

	wait := NextWait(s.cfg.Interval, streak, s.cfg.MaxBackoff)
	s.logger.Warn("all services failed, backing off",
		zap.Int("streak", streak),
		zap.Duration("wait", wait),
	)
	return wait
}

// safeCycle converts a panic into an all-fail cycle.
func (s *Scheduler) safeCycle(ctx context.Context) (report CycleReport) {
	start := time.Now()
	defer func() {
		metrics.ObserveCycle(time.Since(start))
		if r := recover(); r != nil {
			s.logger.Error("poll cycle panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			report = CycleReport{}
		}
	}()
	return s.PollOnce(ctx, nil)
}

// PollOnce runs one cycle over services, or over the configured services
// when services is empty.
func (s *Scheduler) PollOnce(ctx context.Context, services []string) CycleReport {
	if len(services) == 0 {
		services = s.cfg.Services
	}
	var report CycleReport
	for i, slug := range services {
		res := s.scraper.ScrapeService(ctx, slug, s.cfg.MaxAttempts)
		report.Results = append(report.Results, res)

		if res.Failed() {
			s.logger.Warn("scrape error", zap.String("service", slug), zap.String("error", res.Error))
		} else {
			report.AnySuccess = true
			if decision, ok := s.evaluate(ctx, res); ok {
				report.Alerts = append(report.Alerts, decision)
			}
		}

		if i == len(services)-1 {
			break
		}
		delay := s.jitter(s.cfg.JitterMin, s.cfg.JitterMax)
		s.logger.Debug("waiting before next service", zap.Duration("delay", delay))
		if err := s.sleep(ctx, delay); err != nil {
			report.Interrupted = true
			break
		}
	}
	return report
}

// evaluate applies threshold, cooldown and dispatch for one result. ok is
// false when the count is below threshold.
func (s *Scheduler) evaluate(ctx context.Context, res scraper.Result) (AlertDecision, bool) {
	logger := s.logger.With(
		zap.String("service", res.Service),
		zap.Int("reports", res.ReportCount),
		zap.Int("threshold", s.cfg.Threshold),
	)
	if res.ReportCount < s.cfg.Threshold {
		logger.Debug("below threshold")
		return AlertDecision{}, false
	}

	decision := AlertDecision{Service: res.Service, ReportCount: res.ReportCount}
	switch {
	case s.history != nil && s.history.InCooldown(res.Service, s.cfg.Cooldown):
		logger.Info("threshold exceeded but in cooldown, skipping alert")
		decision.Outcome = OutcomeSuppressed
	case s.cfg.DryRun || s.notifier == nil:
		logger.Info("threshold exceeded, dry run so no alert sent")
		decision.Outcome = OutcomeDryRun
	default:
		decision.Recipients = s.notifier.SendAlert(ctx, res.Service, res.ReportCount, s.cfg.Threshold)
		if len(decision.Recipients) == 0 {
			logger.Error("alert reached no recipients")
			decision.Outcome = OutcomeUndelivered
			break
		}
		decision.Outcome = OutcomeSent
		if s.history != nil {
			if _, err := s.history.Record(res.Service, res.ReportCount, decision.Recipients); err != nil {
				decision.Err = fmt.Errorf("record alert: %w", err)
				logger.Error("alert history write failed", zap.Error(err))
			}
		}
	}
	metrics.ObserveAlert(res.Service, decision.Outcome)
	return decision, true
}

func (s *Scheduler) touchHeartbeat() error {
	path := s.cfg.HeartbeatFile
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create heartbeat dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // operator-configured path
	if err != nil {
		return fmt.Errorf("open heartbeat: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close heartbeat: %w", err)
	}
	now := s.now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	return nil
}

func (s *Scheduler) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

var errShutdown = errors.New("shutdown")

func sleepContext(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return errShutdown
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errShutdown
	case <-timer.C:
		return nil
	}
}
