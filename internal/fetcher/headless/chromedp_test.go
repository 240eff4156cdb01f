package headless

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ddbot/internal/scraper"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type memoryDumper struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func (m *memoryDumper) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if path == m.failOn {
		return "", errors.New("disk full")
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(data); err != nil {
		return "", err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[path] = buf.Bytes()
	return "mem://" + path, nil
}

func newTestFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	if cfg.ProfileDir == "" {
		cfg.ProfileDir = filepath.Join(t.TempDir(), "profile")
	}
	f, err := NewChromedp(cfg, fixedClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}, zap.NewNop())
	require.NoError(t, err)
	f.seq = fastSequence()
	return f
}

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{}, nil, nil)
	require.Error(t, err)

	_, err = NewChromedp(Config{ProfileDir: "p", HumanDelayMin: time.Second, HumanDelayMax: time.Millisecond}, nil, nil)
	require.Error(t, err)

	f, err := NewChromedp(Config{ProfileDir: "p"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, scraper.StateNotStarted, f.State())
	require.Contains(t, scraper.UserAgents, f.cfg.UserAgent)
}

func TestFetcherTimeoutDefaults(t *testing.T) {
	t.Parallel()

	f := &Fetcher{}
	require.Equal(t, 30*time.Second, f.navTimeout())
	require.Equal(t, 20*time.Second, f.startupTimeout())
	require.Equal(t, 5*time.Second, f.shutdownGrace())
	f.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, f.navTimeout())
}

func TestStartMissingExecutableStaysNotStarted(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{ExecPath: filepath.Join(t.TempDir(), "no-chrome")})
	err := f.Start(context.Background())
	require.ErrorIs(t, err, scraper.ErrInitialization)
	require.ErrorIs(t, err, ErrExecutableNotFound)
	require.Equal(t, scraper.StateNotStarted, f.State())

	_, err = f.Fetch(context.Background(), "mtn")
	require.ErrorContains(t, err, "not ready")
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{})
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	require.Equal(t, scraper.StateStopped, f.State())
	require.ErrorIs(t, f.Start(context.Background()), scraper.ErrFallbackStopped)
}

func TestScrapeProducesFallbackResult(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{BaseURL: "https://dd.example/status"})
	d := &fakeDriver{html: "<html></html>", props: liveProps}

	res, err := f.scrape(context.Background(), d, "MTN")
	require.NoError(t, err)
	require.Equal(t, []string{"https://dd.example/status/mtn"}, d.navigatedTo)
	require.Equal(t, scraper.Result{
		Service:     "MTN",
		ReportCount: 64,
		Timestamp:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		Status:      scraper.StatusDanger,
		Tier:        scraper.TierFallback,
	}, res)
}

func TestScrapeFallsThroughToText(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{})
	d := &fakeDriver{html: "<html></html>", text: "23 user reports in the last hour"}

	res, err := f.scrape(context.Background(), d, "telkom")
	require.NoError(t, err)
	require.Equal(t, 23, res.ReportCount)
	require.Equal(t, scraper.StatusWarning, res.Status)
}

func TestScrapeDebugDump(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{})
	dumper := &memoryDumper{failOn: "debug_mtn.txt"}
	f.SetDumper(dumper)
	d := &fakeDriver{html: "<html>page</html>", text: "x", props: liveProps}

	_, err := f.scrape(context.Background(), d, "mtn")
	require.NoError(t, err)
	require.Equal(t, []byte("<html>page</html>"), dumper.objects["debug_mtn.html"])
	require.Equal(t, []byte(liveProps), dumper.objects["debug_mtn_dd.json"])
	require.NotEmpty(t, dumper.objects["debug_mtn.png"])
	require.NotContains(t, dumper.objects, "debug_mtn.txt")
}

func TestScrapeUnresolvedChallengeStillDumps(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{})
	dumper := &memoryDumper{}
	f.SetDumper(dumper)
	d := &fakeDriver{blockedReads: 1000, html: "<title>Just a moment...</title>", screenshotErr: errors.New("no frame")}

	_, err := f.scrape(context.Background(), d, "mtn")
	require.ErrorIs(t, err, ErrChallengeUnresolved)
	require.Contains(t, dumper.objects, "debug_mtn.html")
	require.NotContains(t, dumper.objects, "debug_mtn.png")
}
