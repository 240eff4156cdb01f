package cmd

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ddbot/internal/clock/system"
	"github.com/JakeFAU/ddbot/internal/config"
	collyfetcher "github.com/JakeFAU/ddbot/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/ddbot/internal/fetcher/headless"
	"github.com/JakeFAU/ddbot/internal/history"
	"github.com/JakeFAU/ddbot/internal/id/uuid"
	"github.com/JakeFAU/ddbot/internal/logging"
	"github.com/JakeFAU/ddbot/internal/notifier"
	"github.com/JakeFAU/ddbot/internal/policy/ratelimit"
	"github.com/JakeFAU/ddbot/internal/scheduler"
	"github.com/JakeFAU/ddbot/internal/scraper"
	"github.com/JakeFAU/ddbot/internal/storage/local"
)

// app holds the services a command needs. Fields are nil when the command
// did not ask for them.
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	clock        *system.Clock
	history      *history.Store
	orchestrator *scraper.Orchestrator
	dispatcher   *notifier.Dispatcher
}

type appNeeds struct {
	scraping  bool
	notifiers bool
}

// loadApp loads config, builds the logger and the requested services.
func loadApp(opts *globalOptions, overrides map[string]any, needs appNeeds) (*app, error) {
	cfg, err := config.Load(opts.configPath, overrides)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	for _, dropped := range cfg.DroppedServices {
		logger.Warn("service name does not match [a-z0-9-]+, skipping", zap.String("service", dropped))
	}

	a := &app{cfg: cfg, logger: logger, clock: system.New()}

	store, err := history.Open(cfg.History.Path, a.clock, uuid.New(), logger.Named("history"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}
	a.history = store

	if needs.scraping {
		if err := a.buildOrchestrator(); err != nil {
			a.Close()
			return nil, err
		}
	}
	if needs.notifiers {
		a.dispatcher = buildDispatcher(cfg, logger)
	}
	return a, nil
}

func (a *app) buildOrchestrator() error {
	cfg := a.cfg
	primary := collyfetcher.New(collyfetcher.Config{
		BaseURL:             cfg.Target.BaseURL,
		UserAgent:           cfg.Scraper.UserAgent,
		Timeout:             time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
		BodyLengthThreshold: cfg.Scraper.BodyLengthThreshold,
	}, a.clock)

	var fallback scraper.Fallback
	if cfg.Browser.Enabled {
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			BaseURL:           cfg.Target.BaseURL,
			ExecPath:          cfg.Browser.ChromePath,
			ProfileDir:        cfg.Browser.ProfileDir,
			Headless:          cfg.Browser.Headless,
			NoSandbox:         cfg.Browser.NoSandbox,
			UserAgent:         primary.UserAgent(),
			ExtraFlags:        cfg.Browser.ExtraFlags,
			NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSeconds) * time.Second,
			StartupTimeout:    time.Duration(cfg.Browser.StartupTimeoutSeconds) * time.Second,
			ShutdownGrace:     time.Duration(cfg.Browser.ShutdownGraceSeconds) * time.Second,
			HumanDelayMin:     time.Duration(cfg.Browser.HumanDelayMinMillis) * time.Millisecond,
			HumanDelayMax:     time.Duration(cfg.Browser.HumanDelayMaxMillis) * time.Millisecond,
		}, a.clock, a.logger.Named("browser"))
		if err != nil {
			return fmt.Errorf("init browser tier: %w", err)
		}
		if cfg.Browser.DebugDump {
			dumps, err := local.New(local.Config{BaseDir: cfg.Browser.DumpDir})
			if err != nil {
				return fmt.Errorf("init debug dump dir: %w", err)
			}
			browser.SetDumper(dumps)
		}
		fallback = browser
	}

	a.orchestrator = scraper.NewOrchestrator(primary, fallback, a.clock, a.logger.Named("scraper"))
	return nil
}

// messagesPerSecond stays under the chat APIs' per-recipient flood limits.
const messagesPerSecond = 1

func buildDispatcher(cfg config.Config, logger *zap.Logger) *notifier.Dispatcher {
	var channels []notifier.Channel
	pacer := ratelimit.New(ratelimit.Config{PerSecond: messagesPerSecond, Burst: 1})
	if cfg.WhatsApp.GatewayToken != "" && len(cfg.WhatsApp.Recipients) > 0 {
		channels = append(channels, notifier.NewWhatsApp(notifier.WhatsAppConfig{
			GatewayURL: cfg.WhatsApp.GatewayURL,
			Token:      cfg.WhatsApp.GatewayToken,
			Recipients: cfg.WhatsApp.Recipients,
			Pacer:      pacer,
		}, logger))
		logger.Info("whatsapp notifier enabled", zap.Int("recipients", len(cfg.WhatsApp.Recipients)))
	}
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.ChatIDs) > 0 {
		channels = append(channels, notifier.NewTelegram(notifier.TelegramConfig{
			APIBase:  cfg.Telegram.APIBase,
			BotToken: cfg.Telegram.BotToken,
			ChatIDs:  cfg.Telegram.ChatIDs,
			Pacer:    pacer,
		}, logger))
		logger.Info("telegram notifier enabled", zap.Int("chats", len(cfg.Telegram.ChatIDs)))
	}
	if len(cfg.Webhook.URLs) > 0 {
		channels = append(channels, notifier.NewWebhook(notifier.WebhookConfig{URLs: cfg.Webhook.URLs}, logger))
		logger.Info("webhook notifier enabled", zap.Int("urls", len(cfg.Webhook.URLs)))
	}
	return notifier.NewDispatcher(cfg.Target.BaseURL, logger, channels...)
}

// scheduler builds a poll loop over services.
func (a *app) scheduler(services []string) (*scheduler.Scheduler, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	jitterMin, jitterMax := a.cfg.ScrapeDelay()
	m := a.cfg.Monitor
	if len(services) == 0 {
		services = m.Services
	}

	var n scheduler.Notifier
	if a.dispatcher != nil {
		n = a.dispatcher
	}
	return scheduler.New(scheduler.Config{
		Services:      services,
		Threshold:     m.Threshold,
		Interval:      a.cfg.PollInterval(),
		Cooldown:      a.cfg.AlertCooldown(),
		ActiveStart:   m.ActiveHoursStart,
		ActiveEnd:     m.ActiveHoursEnd,
		Location:      loc,
		JitterMin:     jitterMin,
		JitterMax:     jitterMax,
		MaxAttempts:   m.MaxAttempts,
		HeartbeatFile: m.HeartbeatFile,
		DryRun:        m.DryRun,
	}, a.orchestrator, n, a.history, a.clock, a.logger.Named("scheduler")), nil
}

// Close releases the browser and flushes the logger.
func (a *app) Close() {
	if a.orchestrator != nil {
		if err := a.orchestrator.Close(); err != nil {
			a.logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
