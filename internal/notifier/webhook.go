package notifier

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookConfig lists endpoints that receive alerts as JSON.
type WebhookConfig struct {
	URLs    []string
	Timeout time.Duration
}

// Webhook posts a JSON document per alert. Any 2xx response confirms.
type Webhook struct {
	client *resty.Client
	urls   []string
	logger *zap.Logger
}

type webhookPayload struct {
	Message     string `json:"message"`
	Service     string `json:"service,omitempty"`
	ReportCount int    `json:"report_count,omitempty"`
	Threshold   int    `json:"threshold,omitempty"`
	URL         string `json:"url,omitempty"`
}

// NewWebhook builds a webhook channel.
func NewWebhook(cfg WebhookConfig, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		client: resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		urls:   append([]string(nil), cfg.URLs...),
		logger: logger.Named("webhook"),
	}
}

// Name implements Channel.
func (h *Webhook) Name() string { return "Webhook" }

// Targets implements Channel.
func (h *Webhook) Targets() []string { return h.urls }

// Deliver implements Channel.
func (h *Webhook) Deliver(ctx context.Context, msg Message) []string {
	payload := webhookPayload{
		Message:     msg.Text,
		Service:     msg.Service,
		ReportCount: msg.ReportCount,
		Threshold:   msg.Threshold,
		URL:         msg.URL,
	}
	var sent []string
	for _, u := range h.urls {
		resp, err := h.client.R().SetContext(ctx).SetBody(payload).Post(u)
		if err != nil {
			h.logger.Error("webhook request failed", zap.String("url", u), zap.Error(err))
			continue
		}
		if !resp.IsSuccess() {
			h.logger.Error("webhook rejected alert",
				zap.String("url", u),
				zap.Int("status", resp.StatusCode()),
				zap.String("body", snippet(resp.Body())),
			)
			continue
		}
		sent = append(sent, "hook:"+u)
	}
	return sent
}
