package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ddbot/internal/headless/detector"
	"github.com/JakeFAU/ddbot/internal/scraper"
)

// ErrChallengeUnresolved means the interstitial was still up after waiting
// and one interactive attempt.
var ErrChallengeUnresolved = errors.New("challenge did not resolve")

var consentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#accept-recommended-btn-handler",
	"button.fc-cta-consent",
	"button[aria-label='Consent']",
	"button[aria-label='Accept all']",
	"button[mode='primary']",
	"[data-testid='accept-all']",
}

var revealSelectors = []string{
	"[data-testid='show-chart']",
	"button.chart-reveal",
	"button.skip-ad",
	"#skip-button",
}

const chartPathSelector = `svg path[class*="curve"], svg path[class*="area"]`

// sequence holds the timings of one browser scrape.
type sequence struct {
	delayMin       time.Duration
	delayMax       time.Duration
	challengePolls int
	pollInterval   time.Duration
	solvePolls     int
	consentSettle  time.Duration
	revealWait     time.Duration
	logger         *zap.Logger
}

func defaultSequence(logger *zap.Logger) sequence {
	return sequence{
		delayMin:       2 * time.Second,
		delayMax:       5 * time.Second,
		challengePolls: 15,
		pollInterval:   time.Second,
		solvePolls:     10,
		consentSettle:  time.Second,
		revealWait:     5 * time.Second,
		logger:         logger,
	}
}

// run drives the page to a state worth reading and snapshots it. The
// snapshot is returned even when the challenge did not clear so it can be
// dumped for inspection.
func (s sequence) run(ctx context.Context, d pageDriver, url string) (scraper.Document, error) {
	if err := d.Navigate(ctx, url); err != nil {
		return scraper.Document{}, err
	}
	if err := d.Sleep(ctx, scraper.RandomDuration(s.delayMin, s.delayMax)); err != nil {
		return scraper.Document{}, err
	}

	if s.blocked(ctx, d) {
		s.logger.Info("challenge detected, waiting", zap.String("url", url))
		if !s.waitClear(ctx, d, s.challengePolls) {
			s.solve(ctx, d)
			if !s.waitClear(ctx, d, s.solvePolls) {
				doc, _ := s.snapshot(ctx, d)
				return doc, ErrChallengeUnresolved
			}
		}
		s.logger.Info("challenge cleared", zap.String("url", url))
	}

	s.dismissConsent(ctx, d)
	s.revealChart(ctx, d)
	return s.snapshot(ctx, d)
}

func (s sequence) blocked(ctx context.Context, d pageDriver) bool {
	if title, err := d.Title(ctx); err == nil && detector.IsBlockedContent(title) {
		return true
	}
	if text, err := d.BodyText(ctx); err == nil && detector.IsBlockedContent(text) {
		return true
	}
	if html, err := d.HTML(ctx); err == nil && detector.IsBlockedContent(html) {
		return true
	}
	return false
}

func (s sequence) waitClear(ctx context.Context, d pageDriver, polls int) bool {
	for i := 0; i < polls; i++ {
		if err := d.Sleep(ctx, s.pollInterval); err != nil {
			return false
		}
		if !s.blocked(ctx, d) {
			return true
		}
	}
	return false
}

func (s sequence) solve(ctx context.Context, d pageDriver) {
	pt, err := d.ChallengeWidget(ctx)
	if err != nil || !pt.Found {
		s.logger.Warn("challenge widget not found", zap.Error(err))
		return
	}
	s.logger.Info("clicking challenge widget", zap.Float64("x", pt.X), zap.Float64("y", pt.Y))
	if err := d.PointerClick(ctx, pt.X, pt.Y); err != nil {
		s.logger.Warn("challenge click failed", zap.Error(err))
	}
}

func (s sequence) dismissConsent(ctx context.Context, d pageDriver) {
	for _, sel := range consentSelectors {
		clicked, err := d.ClickVisible(ctx, sel)
		if err != nil {
			s.logger.Debug("consent selector failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if clicked {
			s.logger.Debug("dismissed consent dialog", zap.String("selector", sel))
			_ = d.Sleep(ctx, s.consentSettle)
			return
		}
	}
}

func (s sequence) revealChart(ctx context.Context, d pageDriver) {
	for _, sel := range revealSelectors {
		clicked, err := d.ClickVisible(ctx, sel)
		if err != nil || !clicked {
			continue
		}
		if !d.WaitVisible(ctx, chartPathSelector, s.revealWait) {
			s.logger.Debug("chart did not appear after reveal", zap.String("selector", sel))
		}
		return
	}
}

func (s sequence) snapshot(ctx context.Context, d pageDriver) (scraper.Document, error) {
	html, err := d.HTML(ctx)
	if err != nil {
		return scraper.Document{}, fmt.Errorf("read document: %w", err)
	}
	doc := scraper.Document{HTML: html, Live: true}
	if text, err := d.BodyText(ctx); err == nil {
		doc.Text = text
	}
	if props, err := d.Properties(ctx); err == nil {
		doc.Properties = props
	}
	if svg, err := d.ChartSVG(ctx); err == nil {
		doc.ChartSVG = svg
	}
	return doc, nil
}
