package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ddbot/internal/metrics"
)

// DefaultBackoffUnit is multiplied by the attempt number between retries.
const DefaultBackoffUnit = 3 * time.Second

// ErrFallbackStopped is returned when the browser session was already closed.
var ErrFallbackStopped = errors.New("browser session stopped")

// Orchestrator runs the tiered retry walk for one service at a time.
type Orchestrator struct {
	primary     Fetcher
	fallback    Fallback
	clock       Clock
	logger      *zap.Logger
	backoffUnit time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithBackoffUnit overrides the linear backoff step.
func WithBackoffUnit(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.backoffUnit = d
	}
}

// WithSleep replaces the wait used between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// NewOrchestrator wires the two tiers. fallback may be nil, in which case a
// blocked primary fetch is just a failed attempt.
func NewOrchestrator(primary Fetcher, fallback Fallback, clock Clock, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		primary:     primary,
		fallback:    fallback,
		clock:       clock,
		logger:      logger,
		backoffUnit: DefaultBackoffUnit,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScrapeService always returns a Result; failures are reported through
// Status and Error. ctx only interrupts the waits between attempts, the
// fetches themselves run to completion under their own timeouts.
func (o *Orchestrator) ScrapeService(ctx context.Context, slug string, maxAttempts int) Result {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	fetchCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := o.attempt(fetchCtx, slug)
		if err == nil {
			if res.Timestamp.IsZero() {
				res.Timestamp = o.now()
			}
			res.Service = slug
			metrics.ObserveScrape(slug, string(res.Tier), string(res.Status))
			metrics.ObserveReportCount(slug, res.ReportCount)
			o.logger.Info("scraped service",
				zap.String("service", slug),
				zap.Int("reports", res.ReportCount),
				zap.String("status", string(res.Status)),
				zap.String("tier", string(res.Tier)),
			)
			return res
		}
		lastErr = err
		o.logger.Warn("scrape attempt failed",
			zap.String("service", slug),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		if attempt == maxAttempts {
			break
		}
		if sleepErr := o.sleep(ctx, time.Duration(attempt)*o.backoffUnit); sleepErr != nil {
			lastErr = fmt.Errorf("%w (retries abandoned: %v)", lastErr, sleepErr)
			break
		}
	}

	o.logger.Error("scrape failed", zap.String("service", slug), zap.Error(lastErr))
	metrics.ObserveScrape(slug, string(TierError), string(StatusError))
	return Result{
		Service:     slug,
		ReportCount: 0,
		Timestamp:   o.now(),
		Status:      StatusError,
		Error:       lastErr.Error(),
		Tier:        TierError,
	}
}

// Close releases the fallback tier.
func (o *Orchestrator) Close() error {
	if o.fallback == nil {
		return nil
	}
	if err := o.fallback.Close(); err != nil {
		return fmt.Errorf("close browser tier: %w", err)
	}
	return nil
}

func (o *Orchestrator) attempt(ctx context.Context, slug string) (Result, error) {
	res, err := o.primary.Fetch(ctx, slug)
	switch OutcomeOf(err) {
	case OutcomeSuccess:
		return res, nil
	case OutcomeBlocked:
		if o.fallback == nil {
			return Result{}, fmt.Errorf("tier1: %w (no browser tier configured)", err)
		}
		o.logger.Info("primary fetch blocked, using browser",
			zap.String("service", slug),
			zap.Error(err),
		)
		fres, ferr := o.fetchFallback(ctx, slug)
		if ferr != nil {
			return Result{}, fmt.Errorf("tier1: %v; browser also failed: %w", err, ferr)
		}
		return fres, nil
	case OutcomeTransport:
		return Result{}, fmt.Errorf("tier1: %w", err)
	default:
		return Result{}, fmt.Errorf("tier1: unexpected outcome: %w", err)
	}
}

func (o *Orchestrator) fetchFallback(ctx context.Context, slug string) (Result, error) {
	switch o.fallback.State() {
	case StateStopped:
		return Result{}, ErrFallbackStopped
	case StateNotStarted:
		if err := o.fallback.Start(ctx); err != nil {
			metrics.ObserveBrowserStart("failure")
			return Result{}, fmt.Errorf("start browser: %w", err)
		}
		metrics.ObserveBrowserStart("success")
	case StateReady:
	}
	return o.fallback.Fetch(ctx, slug)
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now().UTC()
	}
	return o.clock.Now()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
