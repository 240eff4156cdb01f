// Package collyfetcher implements the lightweight HTTP tier using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/ddbot/internal/headless/detector"
	"github.com/JakeFAU/ddbot/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// BodyLengthThreshold is passed to the challenge heuristic; 0 keeps its default.
	BodyLengthThreshold int
	// Transport overrides the fingerprinted transport; mainly for tests.
	Transport http.RoundTripper
}

// Fetcher implements scraper.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	detector      *detector.Heuristic
	clock         scraper.Clock
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is what the collector hooks capture for one visit.
type page struct {
	statusCode int
	body       []byte
	err        error
}

// New builds a Fetcher. The user agent is fixed for the life of the process.
func New(cfg Config, clock scraper.Clock) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = scraper.DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = scraper.PickUserAgent()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())

	transport := cfg.Transport
	if transport == nil {
		transport = cloudflarebp.AddCloudFlareByPass(newHTTPTransport())
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		detector:      detector.NewHeuristic(cfg.BodyLengthThreshold),
		clock:         clock,
	}
}

// UserAgent returns the identity this fetcher presents.
func (f *Fetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// URL returns the status page address for slug.
func (f *Fetcher) URL(slug string) string {
	return scraper.StatusURL(f.cfg.BaseURL, slug)
}

// Fetch executes a single HTTP GET and extracts a Result. Any response that
// needs a browser comes back as a *scraper.BlockedError.
func (f *Fetcher) Fetch(ctx context.Context, slug string) (scraper.Result, error) {
	var p page
	collector := f.buildCollector(&p)

	if err := f.runCollector(ctx, collector, f.URL(slug), &p); err != nil {
		return scraper.Result{}, err
	}
	if reason, blocked := f.detector.Blocked(p.statusCode, p.body); blocked {
		return scraper.Result{}, &scraper.BlockedError{StatusCode: p.statusCode, Reason: reason}
	}

	reading := scraper.Resolve(scraper.Extract(scraper.Document{HTML: string(p.body)}, scraper.PrimaryStrategies()...))
	return scraper.Result{
		Service:     slug,
		ReportCount: reading.Count,
		Timestamp:   f.now(),
		Status:      reading.Status,
		Tier:        scraper.TierPrimary,
	}, nil
}

func (f *Fetcher) buildCollector(p *page) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, p)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, p *page) {
	hooks.OnRequest(func(r *colly.Request) {
		setBrowserHeaders(r.Headers)
	})

	hooks.OnResponse(func(r *colly.Response) {
		p.statusCode = r.StatusCode
		p.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			p.statusCode = r.StatusCode
			p.body = append([]byte(nil), r.Body...)
			return
		}
		p.err = err
	})
}

// runCollector distinguishes HTTP error statuses, which become blocked
// pages, from transport failures, which are returned as plain errors.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, p *page) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if p.err != nil {
			return fmt.Errorf("colly response failed: %w", p.err)
		}
		if err != nil && p.statusCode == 0 {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) now() time.Time {
	if f.clock == nil {
		return time.Now().UTC()
	}
	return f.clock.Now()
}

func setBrowserHeaders(h *http.Header) {
	if h == nil {
		return
	}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-ZA,en;q=0.9")
	h.Set("Cache-Control", "no-cache")
	h.Set("Upgrade-Insecure-Requests", "1")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
