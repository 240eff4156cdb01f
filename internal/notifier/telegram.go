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

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig configures the bot client.
type TelegramConfig struct {
	APIBase  string
	BotToken string
	ChatIDs  []string
	Timeout  time.Duration
	Pacer    Pacer
}

// Telegram sends messages with the Bot API.
type Telegram struct {
	client  *resty.Client
	token   string
	chatIDs []string
	pacer   Pacer
	logger  *zap.Logger
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// NewTelegram builds a bot client.
func NewTelegram(cfg TelegramConfig, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := cfg.APIBase
	if base == "" {
		base = DefaultTelegramAPI
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Telegram{
		client: resty.New().
			SetBaseURL(strings.TrimRight(base, "/")).
			SetTimeout(timeout),
		token:   cfg.BotToken,
		chatIDs: append([]string(nil), cfg.ChatIDs...),
		pacer:   cfg.Pacer,
		logger:  logger.Named("telegram"),
	}
}

// Name implements Channel.
func (t *Telegram) Name() string { return "Telegram" }

// Targets implements Channel.
func (t *Telegram) Targets() []string { return t.chatIDs }

// SendMessage posts text to one chat.
func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) bool {
	resp, err := t.client.R().
		SetContext(ctx).
		SetRawPathParam("token", t.token).
		SetBody(sendMessageRequest{ChatID: chatID, Text: text}).
		Post("/bot{token}/sendMessage")
	if err != nil {
		// The request URL embeds the bot token.
		t.logger.Error("telegram request failed",
			zap.String("chat_id", chatID),
			zap.String("error", t.redact(err.Error())),
		)
		return false
	}
	body := resp.Body()
	if resp.StatusCode() != http.StatusOK || !gjson.GetBytes(body, "ok").Bool() {
		desc := gjson.GetBytes(body, "description").String()
		if desc == "" {
			desc = snippet(body)
		}
		t.logger.Error("telegram rejected message",
			zap.String("chat_id", chatID),
			zap.Int("status", resp.StatusCode()),
			zap.String("description", desc),
		)
		return false
	}
	t.logger.Info("message sent", zap.String("chat_id", chatID))
	return true
}

// SendAlert delivers msg to each chat and returns confirmations as tg:<chat>.
func (t *Telegram) SendAlert(ctx context.Context, chatIDs []string, msg Message) []string {
	var sent []string
	for _, id := range chatIDs {
		if err := pace(ctx, t.pacer, "tg:"+id); err != nil {
			t.logger.Warn("send interrupted", zap.String("chat_id", id), zap.Error(err))
			break
		}
		if t.SendMessage(ctx, id, msg.Text) {
			sent = append(sent, "tg:"+id)
		}
	}
	return sent
}

// Deliver implements Channel.
func (t *Telegram) Deliver(ctx context.Context, msg Message) []string {
	return t.SendAlert(ctx, t.chatIDs, msg)
}

func (t *Telegram) redact(s string) string {
	if t.token == "" {
		return s
	}
	return strings.ReplaceAll(s, t.token, "<redacted>")
}
