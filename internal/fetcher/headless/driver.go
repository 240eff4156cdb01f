package headless

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// pageDriver is the small set of page operations the scrape sequence needs.
type pageDriver interface {
	Navigate(ctx context.Context, url string) error
	Sleep(ctx context.Context, d time.Duration) error
	Title(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Properties(ctx context.Context) (string, error)
	ChartSVG(ctx context.Context) (string, error)
	ClickVisible(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool
	ChallengeWidget(ctx context.Context) (widgetPoint, error)
	PointerClick(ctx context.Context, x, y float64) error
	Screenshot(ctx context.Context) ([]byte, error)
}

type widgetPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Found bool    `json:"found"`
}

const propertiesScript = `(() => {
  try {
    const p = window.DD && window.DD.currentServiceProperties;
    return p ? JSON.stringify(p) : "";
  } catch (e) {
    return "";
  }
})()`

const chartScript = `(() => {
  const path = document.querySelector('svg path[class*="curve"], svg path[class*="line"], svg path[class*="area"]');
  const svg = path ? path.closest('svg') : null;
  return svg ? svg.outerHTML : "";
})()`

const clickVisibleScript = `((sel) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  const r = el.getBoundingClientRect();
  const style = window.getComputedStyle(el);
  if (r.width === 0 || r.height === 0 || style.visibility === 'hidden' || style.display === 'none') return false;
  el.click();
  return true;
})(%q)`

// frameCheckboxSelectors are tried inside the challenge iframe when its
// document is reachable from the page.
var frameCheckboxSelectors = []string{
	`input[type="checkbox"]`,
	".ctp-checkbox-label",
	".cb-lb",
	"#challenge-stage label",
	"label",
}

// widgetScript locates the interactive challenge checkbox by its
// container, then by a known control inside the challenge iframe, then by
// the iframe itself.
var widgetScript = fmt.Sprintf(`((frameSelectors) => {
  const point = (r, dx, dy) => ({x: r.left + dx, y: r.top + dy, found: true});
  const containers = ['.cf-turnstile', '#turnstile-wrapper', '#challenge-stage', '[id^="cf-chl-widget"]'];
  for (const sel of containers) {
    const el = document.querySelector(sel);
    if (!el) continue;
    const r = el.getBoundingClientRect();
    if (r.width > 0 && r.height > 0) return point(r, Math.min(30, r.width / 2), r.height / 2);
  }
  const frame = Array.from(document.querySelectorAll('iframe')).find(f =>
    (f.src || '').includes('challenges.cloudflare.com') || (f.src || '').includes('turnstile'));
  if (!frame) return {x: 0, y: 0, found: false};
  const fr = frame.getBoundingClientRect();
  let doc = null;
  try { doc = frame.contentDocument; } catch (e) { doc = null; }
  if (doc) {
    for (const sel of frameSelectors) {
      const el = doc.querySelector(sel);
      if (!el) continue;
      const r = el.getBoundingClientRect();
      if (r.width > 0 && r.height > 0) return point(fr, r.left + r.width / 2, r.top + r.height / 2);
    }
  }
  if (fr.width === 0 || fr.height === 0) return {x: 0, y: 0, found: false};
  return point(fr, Math.min(30, fr.width / 2), fr.height / 2);
})(%s)`, jsStringArray(frameCheckboxSelectors))

func jsStringArray(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = strconv.Quote(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// chromedpDriver runs every operation on the attached tab. Each call gets
// its own timeout and is also canceled when the caller's ctx is.
type chromedpDriver struct {
	tab        context.Context
	opTimeout  time.Duration
	navTimeout time.Duration
}

func (d *chromedpDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(d.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

func (d *chromedpDriver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, d.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (d *chromedpDriver) Sleep(ctx context.Context, dur time.Duration) error {
	return sleepContext(ctx, dur)
}

func (d *chromedpDriver) Title(ctx context.Context) (string, error) {
	var title string
	err := d.run(ctx, d.opTimeout, chromedp.Title(&title))
	return title, err
}

func (d *chromedpDriver) BodyText(ctx context.Context) (string, error) {
	var text string
	err := d.run(ctx, d.opTimeout, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return text, err
}

func (d *chromedpDriver) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, d.opTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (d *chromedpDriver) Properties(ctx context.Context) (string, error) {
	var props string
	err := d.run(ctx, d.opTimeout, chromedp.Evaluate(propertiesScript, &props))
	return props, err
}

func (d *chromedpDriver) ChartSVG(ctx context.Context) (string, error) {
	var svg string
	err := d.run(ctx, d.opTimeout, chromedp.Evaluate(chartScript, &svg))
	return svg, err
}

func (d *chromedpDriver) ClickVisible(ctx context.Context, selector string) (bool, error) {
	var clicked bool
	err := d.run(ctx, d.opTimeout, chromedp.Evaluate(fmt.Sprintf(clickVisibleScript, selector), &clicked))
	return clicked, err
}

func (d *chromedpDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool {
	return d.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)) == nil
}

func (d *chromedpDriver) ChallengeWidget(ctx context.Context) (widgetPoint, error) {
	var pt widgetPoint
	err := d.run(ctx, d.opTimeout, chromedp.Evaluate(widgetScript, &pt))
	return pt, err
}

// PointerClick approaches the target in two hops before pressing, which
// is closer to a real pointer than a synthetic click.
func (d *chromedpDriver) PointerClick(ctx context.Context, x, y float64) error {
	return d.run(ctx, d.opTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		hops := [][2]float64{{x - 120, y - 60}, {x - 12, y + 4}, {x, y}}
		for _, hop := range hops {
			if err := input.DispatchMouseEvent(input.MouseMoved, hop[0], hop[1]).Do(ctx); err != nil {
				return fmt.Errorf("move pointer: %w", err)
			}
			if err := sleepContext(ctx, 80*time.Millisecond); err != nil {
				return err
			}
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return fmt.Errorf("press pointer: %w", err)
		}
		if err := input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return fmt.Errorf("release pointer: %w", err)
		}
		return nil
	}))
}

func (d *chromedpDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, d.navTimeout, chromedp.FullScreenshot(&buf, 90))
	return buf, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
