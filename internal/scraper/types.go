package scraper

import (
	"strings"
	"time"
)

// Status is the severity attached to a scrape.
type Status string

const (
	// StatusOK means the service looks healthy.
	StatusOK Status = "ok"
	// StatusWarning means reports are elevated.
	StatusWarning Status = "warning"
	// StatusDanger means an outage is likely.
	StatusDanger Status = "danger"
	// StatusError means no usable data was obtained.
	StatusError Status = "error"
	// StatusUnknown is only produced by strategies; Resolve replaces it.
	StatusUnknown Status = "unknown"
)

// Tier records which transport produced a Result.
type Tier string

const (
	// TierPrimary is the lightweight HTTP fetch.
	TierPrimary Tier = "tier1"
	// TierFallback is the automated browser.
	TierFallback Tier = "tier2"
	// TierError marks a result where every attempt failed.
	TierError Tier = "error"
)

// Result is the outcome of scraping one service.
type Result struct {
	Service     string    `json:"service"`
	ReportCount int       `json:"report_count"`
	Timestamp   time.Time `json:"timestamp"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Tier        Tier      `json:"source_tier"`
}

// Failed reports whether the Result carries no usable data.
func (r Result) Failed() bool {
	return r.Status == StatusError
}

// Reading is what a single extraction strategy yields.
type Reading struct {
	Count  int
	Status Status
}

// Document is the page material a strategy can look at. Properties and
// ChartSVG are only populated by the browser tier.
type Document struct {
	HTML       string
	Text       string
	Properties string
	ChartSVG   string
	Live       bool
}

// DefaultBaseURL is the status page root services are appended to.
const DefaultBaseURL = "https://downdetector.co.za/status"

// StatusURL returns the status page address for slug under base.
func StatusURL(base, slug string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/" + strings.ToLower(slug)
}
