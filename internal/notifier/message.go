// Package notifier delivers outage alerts over WhatsApp, Telegram and
// plain JSON webhooks.
package notifier

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/ddbot/internal/scraper"
)

// Message is one outbound notification. Alert fields are zero for test
// messages.
type Message struct {
	Text        string
	Service     string
	ReportCount int
	Threshold   int
	URL         string
}

// FormatAlertMessage renders the alert text sent to every channel.
func FormatAlertMessage(baseURL, service string, reportCount, threshold int) string {
	return fmt.Sprintf(
		"⚠️ DDBot Alert: %s has %d reports on DownDetector (threshold: %d).\nCheck %s",
		strings.ToUpper(service),
		reportCount,
		threshold,
		scraper.StatusURL(baseURL, service),
	)
}

// NewAlert builds the alert message for a service.
func NewAlert(baseURL, service string, reportCount, threshold int) Message {
	return Message{
		Text:        FormatAlertMessage(baseURL, service, reportCount, threshold),
		Service:     strings.ToLower(service),
		ReportCount: reportCount,
		Threshold:   threshold,
		URL:         scraper.StatusURL(baseURL, service),
	}
}

func testMessage(channel string) Message {
	return Message{Text: fmt.Sprintf("✅ DDBot test message - %s integration is working!", channel)}
}

// IsGroupJID reports whether recipient names a WhatsApp group.
func IsGroupJID(recipient string) bool {
	return strings.HasSuffix(strings.TrimSpace(recipient), "@g.us")
}

// NormalizeRecipient keeps group JIDs and strips '+', spaces and dashes
// from phone numbers.
func NormalizeRecipient(recipient string) string {
	recipient = strings.TrimSpace(recipient)
	if IsGroupJID(recipient) {
		return recipient
	}
	return strings.NewReplacer("+", "", " ", "", "-", "").Replace(recipient)
}

// GatewayTarget formats a recipient for the gateway's target field.
func GatewayTarget(recipient string) string {
	normalized := NormalizeRecipient(recipient)
	if IsGroupJID(normalized) {
		return normalized
	}
	return "+" + normalized
}

func snippet(body []byte) string {
	const limit = 200
	s := string(body)
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
