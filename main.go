// The main package for the ddbot executable.
//
// Architecture overview:
//   - Poll loop: internal/scheduler walks the configured services one at a time with a random pause between them,
//     skips cycles outside the active hours, and doubles the wait (capped at an hour) while every scrape fails.
//   - Scraping: internal/scraper.Orchestrator tries the Colly fetcher first and, when that is blocked by a challenge
//     or a client-rendered shell, a Chrome session driven over DevTools. Both feed the same ordered extraction
//     strategies. Retries back off linearly.
//   - Alerts: a count at or above the threshold is sent through internal/notifier (WhatsApp gateway, Telegram,
//     webhooks) unless internal/history shows an alert for that service inside the cooldown window. Only confirmed
//     deliveries are recorded.
//   - Plumbing: Viper reads config from file and env (the DD_* names), zap logs, Prometheus metrics and a small chi
//     router serve /metrics, /healthz, /readyz and /v1 status routes when metrics.addr is set.
//
// Operational notes:
//   - SIGINT/SIGTERM stop the loop during any wait; an in-flight scrape finishes and the browser is always closed.
//   - A heartbeat file is touched after every cycle with at least one successful scrape.
//   - Run locally: go run . once --dry-run --service mtn
package main

import (
	"github.com/JakeFAU/ddbot/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
