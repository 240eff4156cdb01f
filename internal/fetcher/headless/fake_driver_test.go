package headless

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeDriver simulates a page that stays behind a challenge for a number
// of reads.
type fakeDriver struct {
	mu sync.Mutex

	navigateErr    error
	blockedReads   int
	solveClears    bool
	widget         widgetPoint
	html           string
	text           string
	props          string
	svg            string
	clickable      map[string]bool
	failingClicks  map[string]bool
	chartAppears   bool
	screenshotErr  error
	navigatedTo    []string
	sleeps         []time.Duration
	clicked        []string
	pointerClicks  int
	waitedSelector string
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigatedTo = append(d.navigatedTo, url)
	return d.navigateErr
}

func (d *fakeDriver) Sleep(_ context.Context, dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sleeps = append(d.sleeps, dur)
	return nil
}

func (d *fakeDriver) challenged() bool {
	return d.blockedReads > 0
}

func (d *fakeDriver) Title(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.challenged() {
		d.blockedReads--
		return "Just a moment...", nil
	}
	return "MTN down? Current problems and outages", nil
}

func (d *fakeDriver) BodyText(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text, nil
}

func (d *fakeDriver) HTML(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.html, nil
}

func (d *fakeDriver) Properties(context.Context) (string, error) {
	return d.props, nil
}

func (d *fakeDriver) ChartSVG(context.Context) (string, error) {
	return d.svg, nil
}

func (d *fakeDriver) ClickVisible(_ context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failingClicks[selector] {
		return false, errors.New("evaluation failed")
	}
	if d.clickable[selector] {
		d.clicked = append(d.clicked, selector)
		return true, nil
	}
	return false, nil
}

func (d *fakeDriver) WaitVisible(_ context.Context, selector string, _ time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitedSelector = selector
	return d.chartAppears
}

func (d *fakeDriver) ChallengeWidget(context.Context) (widgetPoint, error) {
	return d.widget, nil
}

func (d *fakeDriver) PointerClick(context.Context, float64, float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pointerClicks++
	if d.solveClears {
		d.blockedReads = 0
	}
	return nil
}

func (d *fakeDriver) Screenshot(context.Context) ([]byte, error) {
	if d.screenshotErr != nil {
		return nil, d.screenshotErr
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}
