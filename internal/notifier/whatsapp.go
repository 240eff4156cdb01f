package notifier

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// WhatsAppConfig configures the gateway client.
type WhatsAppConfig struct {
	GatewayURL string
	Token      string
	Recipients []string
	Timeout    time.Duration
	// Pacer spaces consecutive messages to the same recipient. Optional.
	Pacer Pacer
}

// WhatsApp sends messages through the gateway's tool invocation endpoint.
type WhatsApp struct {
	client     *resty.Client
	recipients []string
	pacer      Pacer
	logger     *zap.Logger
}

type invokeRequest struct {
	Tool   string     `json:"tool"`
	Action string     `json:"action"`
	Args   invokeArgs `json:"args"`
}

type invokeArgs struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

// NewWhatsApp builds a gateway client.
func NewWhatsApp(cfg WhatsAppConfig, logger *zap.Logger) *WhatsApp {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.GatewayURL, "/")).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &WhatsApp{
		client:     client,
		recipients: append([]string(nil), cfg.Recipients...),
		pacer:      cfg.Pacer,
		logger:     logger.Named("whatsapp"),
	}
}

// Name implements Channel.
func (w *WhatsApp) Name() string { return "WhatsApp" }

// Targets implements Channel.
func (w *WhatsApp) Targets() []string { return w.recipients }

// SendMessage sends one message and reports whether the gateway accepted it.
func (w *WhatsApp) SendMessage(ctx context.Context, recipient, text string) bool {
	target := GatewayTarget(recipient)
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(invokeRequest{
			Tool:   "message",
			Action: "send",
			Args:   invokeArgs{Target: target, Message: text},
		}).
		Post("/tools/invoke")
	if err != nil {
		w.logger.Error("gateway request failed", zap.String("target", target), zap.Error(err))
		return false
	}
	if resp.StatusCode() != http.StatusOK || !gjson.GetBytes(resp.Body(), "ok").Bool() {
		w.logger.Error("gateway rejected message",
			zap.String("target", target),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", snippet(resp.Body())),
		)
		return false
	}
	w.logger.Info("message sent", zap.String("target", target))
	return true
}

// SendAlert delivers the alert to recipients and returns those that were
// confirmed, in their configured form.
func (w *WhatsApp) SendAlert(ctx context.Context, recipients []string, msg Message) []string {
	var sent []string
	for _, r := range recipients {
		if err := pace(ctx, w.pacer, "wa:"+r); err != nil {
			w.logger.Warn("send interrupted", zap.String("recipient", r), zap.Error(err))
			break
		}
		if w.SendMessage(ctx, r, msg.Text) {
			sent = append(sent, r)
		}
	}
	return sent
}

// Deliver implements Channel.
func (w *WhatsApp) Deliver(ctx context.Context, msg Message) []string {
	return w.SendAlert(ctx, w.recipients, msg)
}
