// Package detector recognizes pages that cannot be scraped over plain HTTP:
// bot challenges and client-rendered shells that carry no data.
package detector

import (
	"bytes"
	"net/http"
	"strings"
)

// challengeMarkers are matched case-insensitively anywhere in the page.
var challengeMarkers = []string{
	"just a moment",
	"verify you are human",
	"checking your browser",
	"cf-challenge",
	"attention required! | cloudflare",
}

var spaMarkers = [][]byte{
	[]byte("/_next/static/"),
	[]byte("__next"),
	[]byte("__NEXT_DATA__"),
	[]byte("data-reactroot"),
}

var propertiesMarker = []byte("currentServiceProperties")

// IsBlockedContent reports whether text looks like an interstitial challenge.
func IsBlockedContent(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Heuristic judges raw HTTP responses.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// Blocked returns a reason when the response is unusable without a browser.
func (h *Heuristic) Blocked(statusCode int, body []byte) (string, bool) {
	if statusCode != http.StatusOK {
		return "unexpected http status", true
	}
	if IsBlockedContent(string(body)) {
		return "challenge page", true
	}
	if h.IsClientShell(body) {
		return "client-rendered shell", true
	}
	return "", false
}

// IsClientShell reports whether body is a JavaScript bundle loader without
// the embedded service properties.
func (h *Heuristic) IsClientShell(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	if bytes.Contains(body, propertiesMarker) {
		return false
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < h.BodyLengthThreshold && scriptDensityHigh(body)
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
