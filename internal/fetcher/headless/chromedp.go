// Package headless implements the browser tier: it launches a real Chrome
// with a persistent profile, attaches chromedp over the remote debugging
// port, and walks the page past challenges and consent dialogs.
package headless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ddbot/internal/scraper"
)

// Config controls the behavior of the browser tier.
type Config struct {
	BaseURL           string
	ExecPath          string
	ProfileDir        string
	Headless          bool
	NoSandbox         bool
	UserAgent         string
	ExtraFlags        []string
	NavigationTimeout time.Duration
	StartupTimeout    time.Duration
	ShutdownGrace     time.Duration
	HumanDelayMin     time.Duration
	HumanDelayMax     time.Duration
}

// Dumper stores debug artifacts. The local blob store satisfies it.
type Dumper interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Fetcher implements scraper.Fallback on top of a self-launched Chrome.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger
	clock  scraper.Clock
	http   *resty.Client
	seq    sequence
	dumper Dumper

	mu          sync.Mutex
	state       scraper.LifecycleState
	cmd         *exec.Cmd
	exited      chan struct{}
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	driver      pageDriver
}

// NewChromedp creates a browser tier in StateNotStarted. Nothing is
// launched until Start.
func NewChromedp(cfg Config, clock scraper.Clock, logger *zap.Logger) (*Fetcher, error) {
	if cfg.ProfileDir == "" {
		return nil, fmt.Errorf("profile dir is required")
	}
	if cfg.HumanDelayMax < cfg.HumanDelayMin {
		return nil, fmt.Errorf("human delay max must be >= min")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = scraper.PickUserAgent()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seq := defaultSequence(logger)
	if cfg.HumanDelayMax > 0 {
		seq.delayMin, seq.delayMax = cfg.HumanDelayMin, cfg.HumanDelayMax
	}
	return &Fetcher{
		cfg:    cfg,
		logger: logger,
		clock:  clock,
		http:   resty.New().SetTimeout(2 * time.Second),
		seq:    seq,
		state:  scraper.StateNotStarted,
	}, nil
}

// SetDumper enables debug dumps of every scraped page.
func (f *Fetcher) SetDumper(d Dumper) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dumper = d
}

// State reports the session lifecycle state.
func (f *Fetcher) State() scraper.LifecycleState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start launches and attaches to the browser. On failure everything that
// was started is torn down and the Fetcher stays in StateNotStarted.
func (f *Fetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case scraper.StateReady:
		return nil
	case scraper.StateStopped:
		return scraper.ErrFallbackStopped
	case scraper.StateNotStarted:
	}
	if err := f.start(ctx); err != nil {
		f.teardown()
		f.logger.Error("browser start failed", zap.Error(err))
		return fmt.Errorf("%w: %w", scraper.ErrInitialization, err)
	}
	f.state = scraper.StateReady
	return nil
}

func (f *Fetcher) start(ctx context.Context) error {
	exe, err := FindExecutable(f.cfg.ExecPath)
	if err != nil {
		return err
	}
	port, err := FreePort()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.cfg.ProfileDir, 0o750); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cmd := exec.Command(exe, launchArgs(f.cfg, port)...) //nolint:gosec // executable comes from config or well-known paths
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	f.cmd = cmd
	f.exited = make(chan struct{})
	go func(done chan struct{}) {
		_ = cmd.Wait()
		close(done)
	}(f.exited)
	f.logger.Info("browser launched",
		zap.String("executable", exe),
		zap.Int("port", port),
		zap.Int("pid", cmd.Process.Pid),
	)

	endpoint := "http://127.0.0.1:" + strconv.Itoa(port)
	wsURL, err := waitDevTools(ctx, f.http, endpoint, f.startupTimeout(), f.exited)
	if err != nil {
		return err
	}
	targetID, err := pageTarget(ctx, f.http, endpoint)
	if err != nil {
		return err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	f.allocCancel = allocCancel
	var opts []chromedp.ContextOption
	if targetID != "" {
		opts = append(opts, chromedp.WithTargetID(target.ID(targetID)))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, opts...)
	f.tabCancel = tabCancel

	setupCtx, cancel := context.WithTimeout(tabCtx, f.startupTimeout())
	defer cancel()
	if err := chromedp.Run(setupCtx, f.networkSetupAction()); err != nil {
		return fmt.Errorf("attach to browser: %w", err)
	}
	f.driver = &chromedpDriver{
		tab:        tabCtx,
		opTimeout:  10 * time.Second,
		navTimeout: f.navTimeout(),
	}
	return nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).
				WithAcceptLanguage("en-ZA,en;q=0.9").Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Fetch scrapes one service page. Calls are serialized on the single tab.
func (f *Fetcher) Fetch(ctx context.Context, slug string) (scraper.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != scraper.StateReady || f.driver == nil {
		return scraper.Result{}, fmt.Errorf("browser not ready (%s)", f.state)
	}
	return f.scrape(ctx, f.driver, slug)
}

func (f *Fetcher) scrape(ctx context.Context, d pageDriver, slug string) (scraper.Result, error) {
	url := scraper.StatusURL(f.cfg.BaseURL, slug)
	doc, err := f.seq.run(ctx, d, url)
	if f.dumper != nil && (doc.HTML != "" || err == nil) {
		f.dump(ctx, d, slug, doc)
	}
	if err != nil {
		return scraper.Result{}, err
	}

	reading := scraper.Resolve(scraper.Extract(doc, scraper.FallbackStrategies()...))
	return scraper.Result{
		Service:     slug,
		ReportCount: reading.Count,
		Timestamp:   f.now(),
		Status:      reading.Status,
		Tier:        scraper.TierFallback,
	}, nil
}

// Close is idempotent and safe in any state.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == scraper.StateStopped {
		return nil
	}
	f.teardown()
	f.state = scraper.StateStopped
	return nil
}

// teardown cancels automation contexts, then asks the browser to exit and
// kills it after the grace period.
func (f *Fetcher) teardown() {
	if f.tabCancel != nil {
		f.tabCancel()
		f.tabCancel = nil
	}
	if f.allocCancel != nil {
		f.allocCancel()
		f.allocCancel = nil
	}
	f.driver = nil
	if f.cmd == nil || f.cmd.Process == nil {
		f.cmd = nil
		return
	}
	if err := f.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = f.cmd.Process.Kill()
	}
	select {
	case <-f.exited:
	case <-time.After(f.shutdownGrace()):
		f.logger.Warn("browser did not exit, killing", zap.Int("pid", f.cmd.Process.Pid))
		_ = f.cmd.Process.Kill()
		<-f.exited
	}
	f.logger.Info("browser stopped")
	f.cmd = nil
}

type artifact struct {
	name        string
	contentType string
	data        []byte
}

func (f *Fetcher) dump(ctx context.Context, d pageDriver, slug string, doc scraper.Document) {
	prefix := "debug_" + slug
	artifacts := []artifact{
		{prefix + ".html", "text/html; charset=utf-8", []byte(doc.HTML)},
		{prefix + ".txt", "text/plain; charset=utf-8", []byte(doc.Text)},
		{prefix + "_dd.json", "application/json", []byte(doc.Properties)},
	}
	if shot, err := d.Screenshot(ctx); err == nil {
		artifacts = append(artifacts, artifact{prefix + ".png", "image/png", shot})
	} else {
		f.logger.Warn("debug screenshot failed", zap.String("service", slug), zap.Error(err))
	}
	for _, a := range artifacts {
		uri, err := f.dumper.PutObject(ctx, a.name, a.contentType, bytes.NewReader(a.data))
		if err != nil {
			f.logger.Warn("debug dump failed", zap.String("artifact", a.name), zap.Error(err))
			continue
		}
		f.logger.Info("debug dump saved", zap.String("uri", uri), zap.Int("bytes", len(a.data)))
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 30 * time.Second
}

func (f *Fetcher) startupTimeout() time.Duration {
	if f.cfg.StartupTimeout > 0 {
		return f.cfg.StartupTimeout
	}
	return 20 * time.Second
}

func (f *Fetcher) shutdownGrace() time.Duration {
	if f.cfg.ShutdownGrace > 0 {
		return f.cfg.ShutdownGrace
	}
	return 5 * time.Second
}

func (f *Fetcher) now() time.Time {
	if f.clock == nil {
		return time.Now().UTC()
	}
	return f.clock.Now()
}
