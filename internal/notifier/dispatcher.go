package notifier

import (
	"context"

	"go.uber.org/zap"
)

// Channel is one delivery mechanism with its own recipients.
type Channel interface {
	Name() string
	Targets() []string
	// Deliver sends msg to every target and returns the confirmed labels.
	Deliver(ctx context.Context, msg Message) []string
}

// Pacer blocks until another message to key may be sent.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

func pace(ctx context.Context, p Pacer, key string) error {
	if p == nil {
		return nil
	}
	return p.Wait(ctx, key) //nolint:wrapcheck // caller logs it
}

// Dispatcher fans an alert out to every configured channel.
type Dispatcher struct {
	baseURL  string
	channels []Channel
	logger   *zap.Logger
}

// NewDispatcher builds a dispatcher. baseURL is the status page root used in
// alert links.
func NewDispatcher(baseURL string, logger *zap.Logger, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{baseURL: baseURL, channels: channels, logger: logger.Named("notifier")}
}

// Channels returns the configured channels.
func (d *Dispatcher) Channels() []Channel {
	return d.channels
}

// SendAlert delivers the alert and returns every confirmed recipient.
// An empty result means nobody was reached.
func (d *Dispatcher) SendAlert(ctx context.Context, service string, reportCount, threshold int) []string {
	msg := NewAlert(d.baseURL, service, reportCount, threshold)
	var (
		confirmed []string
		attempted int
	)
	for _, ch := range d.channels {
		targets := ch.Targets()
		if len(targets) == 0 {
			continue
		}
		attempted += len(targets)
		sent := ch.Deliver(ctx, msg)
		d.logger.Info("channel delivery finished",
			zap.String("channel", ch.Name()),
			zap.String("service", service),
			zap.Int("delivered", len(sent)),
			zap.Int("targets", len(targets)),
		)
		confirmed = append(confirmed, sent...)
	}
	d.logger.Info("alert dispatched",
		zap.String("service", service),
		zap.Int("reports", reportCount),
		zap.Int("delivered", len(confirmed)),
		zap.Int("targets", attempted),
	)
	return confirmed
}

// TestResult is the outcome of a test message on one channel.
type TestResult struct {
	Channel   string
	Targets   int
	Delivered []string
}

// SendTest sends a test message through every channel.
func (d *Dispatcher) SendTest(ctx context.Context) []TestResult {
	results := make([]TestResult, 0, len(d.channels))
	for _, ch := range d.channels {
		results = append(results, TestResult{
			Channel:   ch.Name(),
			Targets:   len(ch.Targets()),
			Delivered: ch.Deliver(ctx, testMessage(ch.Name())),
		})
	}
	return results
}
