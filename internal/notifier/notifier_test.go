package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capture struct {
	mu       sync.Mutex
	requests []capturedRequest
}

type capturedRequest struct {
	path string
	auth string
	body map[string]any
}

func (c *capture) add(r *http.Request) capturedRequest {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	req := capturedRequest{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return req
}

func (c *capture) all() []capturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedRequest(nil), c.requests...)
}

func TestFormatAlertMessage(t *testing.T) {
	t.Parallel()

	got := FormatAlertMessage("https://downdetector.co.za/status/", "MTN", 42, 10)
	require.Equal(t,
		"⚠️ DDBot Alert: MTN has 42 reports on DownDetector (threshold: 10).\nCheck https://downdetector.co.za/status/mtn",
		got,
	)
}

func TestRecipientNormalization(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"+27 82-123-4567", "+27821234567"},
		{"27821234567", "+27821234567"},
		{" 1203630@g.us ", "1203630@g.us"},
		{"120363-041234567@g.us", "120363-041234567@g.us"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, GatewayTarget(tc.in), tc.in)
	}
	require.True(t, IsGroupJID("abc@g.us"))
	require.False(t, IsGroupJID("+2782"))
}

func TestWhatsAppSendAlert(t *testing.T) {
	t.Parallel()

	var rec capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := rec.add(r)
		args, _ := req.body["args"].(map[string]any)
		if args["target"] == "+27000000000" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok": false, "error": "unknown number"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	t.Cleanup(srv.Close)

	wa := NewWhatsApp(WhatsAppConfig{GatewayURL: srv.URL + "/", Token: "secret"}, zap.NewNop())
	msg := NewAlert("https://downdetector.co.za/status", "mtn", 15, 10)
	sent := wa.SendAlert(context.Background(), []string{"+27 82 123 4567", "27000000000"}, msg)

	require.Equal(t, []string{"+27 82 123 4567"}, sent)
	reqs := rec.all()
	require.Len(t, reqs, 2)
	require.Equal(t, "/tools/invoke", reqs[0].path)
	require.Equal(t, "Bearer secret", reqs[0].auth)
	require.Equal(t, "message", reqs[0].body["tool"])
	require.Equal(t, "send", reqs[0].body["action"])
	args := reqs[0].body["args"].(map[string]any)
	require.Equal(t, "+27821234567", args["target"])
	require.Equal(t, msg.Text, args["message"])
}

func TestWhatsAppNon200Fails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	t.Cleanup(srv.Close)

	wa := NewWhatsApp(WhatsAppConfig{GatewayURL: srv.URL, Token: "bad"}, nil)
	require.False(t, wa.SendMessage(context.Background(), "+27821234567", "hi"))
}

func TestWhatsAppUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	wa := NewWhatsApp(WhatsAppConfig{GatewayURL: url, Token: "t"}, nil)
	require.Empty(t, wa.SendAlert(context.Background(), []string{"+1"}, Message{Text: "x"}))
}

func TestTelegramSendAlert(t *testing.T) {
	t.Parallel()

	var rec capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := rec.add(r)
		if req.body["chat_id"] == "999" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok": false, "description": "chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok": true, "result": {}}`))
	}))
	t.Cleanup(srv.Close)

	tg := NewTelegram(TelegramConfig{APIBase: srv.URL, BotToken: "123:ABC", ChatIDs: []string{"42", "999"}}, zap.NewNop())
	sent := tg.Deliver(context.Background(), Message{Text: "alert"})

	require.Equal(t, []string{"tg:42"}, sent)
	reqs := rec.all()
	require.Len(t, reqs, 2)
	require.Equal(t, "/bot123:ABC/sendMessage", reqs[0].path)
	require.Equal(t, "alert", reqs[0].body["text"])
}

type keyPacer struct {
	keys   []string
	failAt int
}

func (p *keyPacer) Wait(_ context.Context, key string) error {
	p.keys = append(p.keys, key)
	if p.failAt > 0 && len(p.keys) == p.failAt {
		return errors.New("context canceled")
	}
	return nil
}

func TestTelegramPacesPerChat(t *testing.T) {
	t.Parallel()

	var rec capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	t.Cleanup(srv.Close)

	pacer := &keyPacer{}
	tg := NewTelegram(TelegramConfig{APIBase: srv.URL, BotToken: "t", ChatIDs: []string{"1", "2"}, Pacer: pacer}, nil)
	require.Equal(t, []string{"tg:1", "tg:2"}, tg.Deliver(context.Background(), Message{Text: "x"}))
	require.Equal(t, []string{"tg:1", "tg:2"}, pacer.keys)
}

func TestWhatsAppStopsWhenPacerFails(t *testing.T) {
	t.Parallel()

	var rec capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	t.Cleanup(srv.Close)

	pacer := &keyPacer{failAt: 2}
	wa := NewWhatsApp(WhatsAppConfig{
		GatewayURL: srv.URL,
		Token:      "t",
		Recipients: []string{"27820000001", "27820000002", "27820000003"},
		Pacer:      pacer,
	}, nil)
	sent := wa.Deliver(context.Background(), Message{Text: "x"})

	require.Equal(t, []string{"27820000001"}, sent)
	require.Len(t, rec.all(), 1)
}

func TestTelegramRedactsToken(t *testing.T) {
	t.Parallel()

	tg := NewTelegram(TelegramConfig{BotToken: "123:ABC"}, nil)
	require.Equal(t, "post https://x/bot<redacted>/sendMessage", tg.redact("post https://x/bot123:ABC/sendMessage"))
}

func TestWebhookDeliver(t *testing.T) {
	t.Parallel()

	var rec capture
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ok.Close)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	hook := NewWebhook(WebhookConfig{URLs: []string{ok.URL, failing.URL}}, nil)
	sent := hook.Deliver(context.Background(), NewAlert("https://downdetector.co.za/status", "telkom", 60, 10))

	require.Equal(t, []string{"hook:" + ok.URL}, sent)
	reqs := rec.all()
	require.Len(t, reqs, 1)
	require.Equal(t, "telkom", reqs[0].body["service"])
	require.EqualValues(t, 60, reqs[0].body["report_count"])
	require.Equal(t, "https://downdetector.co.za/status/telkom", reqs[0].body["url"])
}

type stubChannel struct {
	name     string
	targets  []string
	confirm  []string
	messages []Message
}

func (s *stubChannel) Name() string      { return s.name }
func (s *stubChannel) Targets() []string { return s.targets }
func (s *stubChannel) Deliver(_ context.Context, msg Message) []string {
	s.messages = append(s.messages, msg)
	return s.confirm
}

func TestDispatcherSendAlert(t *testing.T) {
	t.Parallel()

	wa := &stubChannel{name: "WhatsApp", targets: []string{"a", "b"}, confirm: []string{"a"}}
	tg := &stubChannel{name: "Telegram", targets: []string{"1"}, confirm: []string{"tg:1"}}
	empty := &stubChannel{name: "Webhook"}

	d := NewDispatcher("https://downdetector.co.za/status", zap.NewNop(), wa, tg, empty)
	sent := d.SendAlert(context.Background(), "MTN", 20, 10)

	require.Equal(t, []string{"a", "tg:1"}, sent)
	require.Len(t, wa.messages, 1)
	require.Equal(t, "mtn", wa.messages[0].Service)
	require.Contains(t, wa.messages[0].Text, "MTN has 20 reports")
	require.Empty(t, empty.messages, "channels without targets are skipped")
}

func TestDispatcherSendTest(t *testing.T) {
	t.Parallel()

	tg := &stubChannel{name: "Telegram", targets: []string{"1"}, confirm: []string{"tg:1"}}
	d := NewDispatcher("", nil, tg)

	results := d.SendTest(context.Background())
	require.Equal(t, []TestResult{{Channel: "Telegram", Targets: 1, Delivered: []string{"tg:1"}}}, results)
	require.Equal(t, "✅ DDBot test message - Telegram integration is working!", tg.messages[0].Text)
}
