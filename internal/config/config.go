// Package config loads and validates ddbot configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // active hours need zone data on minimal hosts

	"github.com/spf13/viper"

	"github.com/JakeFAU/ddbot/internal/logging"
	"github.com/JakeFAU/ddbot/internal/scraper"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Config captures every knob loaded via Viper.
type Config struct {
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Target   TargetConfig   `mapstructure:"target"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	History  HistoryConfig  `mapstructure:"history"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`

	// DroppedServices holds configured slugs that failed the slug pattern.
	DroppedServices []string `mapstructure:"-"`
}

// MonitorConfig drives the poll loop.
type MonitorConfig struct {
	Services              []string `mapstructure:"services"`
	Threshold             int      `mapstructure:"threshold"`
	PollIntervalSeconds   int      `mapstructure:"poll_interval_seconds"`
	AlertCooldownSeconds  int      `mapstructure:"alert_cooldown_seconds"`
	ActiveHoursStart      int      `mapstructure:"active_hours_start"`
	ActiveHoursEnd        int      `mapstructure:"active_hours_end"`
	Timezone              string   `mapstructure:"timezone"`
	ScrapeDelayMinSeconds int      `mapstructure:"scrape_delay_min_seconds"`
	ScrapeDelayMaxSeconds int      `mapstructure:"scrape_delay_max_seconds"`
	MaxAttempts           int      `mapstructure:"max_attempts"`
	HeartbeatFile         string   `mapstructure:"heartbeat_file"`
	DryRun                bool     `mapstructure:"dry_run"`
}

// TargetConfig names the status site.
type TargetConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ScraperConfig tunes the plain HTTP tier.
type ScraperConfig struct {
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
	BodyLengthThreshold int    `mapstructure:"body_length_threshold"`
}

// BrowserConfig tunes the browser tier.
type BrowserConfig struct {
	Enabled               bool     `mapstructure:"enabled"`
	ChromePath            string   `mapstructure:"chrome_path"`
	ProfileDir            string   `mapstructure:"profile_dir"`
	Headless              bool     `mapstructure:"headless"`
	NoSandbox             bool     `mapstructure:"no_sandbox"`
	ExtraFlags            []string `mapstructure:"extra_flags"`
	NavTimeoutSeconds     int      `mapstructure:"nav_timeout_seconds"`
	StartupTimeoutSeconds int      `mapstructure:"startup_timeout_seconds"`
	ShutdownGraceSeconds  int      `mapstructure:"shutdown_grace_seconds"`
	HumanDelayMinMillis   int      `mapstructure:"human_delay_min_ms"`
	HumanDelayMaxMillis   int      `mapstructure:"human_delay_max_ms"`
	DebugDump             bool     `mapstructure:"debug_dump"`
	DumpDir               string   `mapstructure:"dump_dir"`
}

// WhatsAppConfig points at the messaging gateway.
type WhatsAppConfig struct {
	GatewayURL   string   `mapstructure:"gateway_url"`
	GatewayToken string   `mapstructure:"gateway_token"`
	Recipients   []string `mapstructure:"recipients"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	BotToken string   `mapstructure:"bot_token"`
	ChatIDs  []string `mapstructure:"chat_ids"`
	APIBase  string   `mapstructure:"api_base"`
}

// WebhookConfig lists JSON alert endpoints.
type WebhookConfig struct {
	URLs []string `mapstructure:"urls"`
}

// HistoryConfig locates the alert history file.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig enables the ops listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig controls zap.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// envBindings keeps the historical variable names working alongside the
// DD_ prefixed keys.
var envBindings = map[string][]string{
	"monitor.services":                 {"DD_SERVICES"},
	"monitor.threshold":                {"DD_THRESHOLD"},
	"monitor.poll_interval_seconds":    {"DD_POLL_INTERVAL"},
	"monitor.alert_cooldown_seconds":   {"DD_ALERT_COOLDOWN"},
	"monitor.active_hours_start":       {"DD_ACTIVE_HOURS_START"},
	"monitor.active_hours_end":         {"DD_ACTIVE_HOURS_END"},
	"monitor.timezone":                 {"DD_TIMEZONE"},
	"monitor.scrape_delay_min_seconds": {"DD_SCRAPE_DELAY_MIN"},
	"monitor.scrape_delay_max_seconds": {"DD_SCRAPE_DELAY_MAX"},
	"browser.chrome_path":              {"DD_CHROME_PATH"},
	"whatsapp.gateway_url":             {"OPENCLAW_GATEWAY_URL"},
	"whatsapp.gateway_token":           {"OPENCLAW_GATEWAY_TOKEN"},
	"whatsapp.recipients":              {"WHATSAPP_RECIPIENTS"},
	"telegram.bot_token":               {"TELEGRAM_BOT_TOKEN"},
	"telegram.chat_ids":                {"TELEGRAM_CHAT_IDS"},
	"log.level":                        {"LOG_LEVEL"},
}

// Load builds a Config from disk/environment. overrides are applied last,
// typically from command-line flags.
func Load(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := readConfigFile(v, path); err != nil {
		return Config{}, err
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// searchPaths are tried for a file named ddbot.{yaml,json,toml} when no
// explicit path is given. Finding none is not an error.
var searchPaths = []string{".", "/etc/ddbot", "$HOME/.ddbot"}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	v.SetConfigName("ddbot")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitor.services", []string{"mtn"})
	v.SetDefault("monitor.threshold", 10)
	v.SetDefault("monitor.poll_interval_seconds", 1800)
	v.SetDefault("monitor.alert_cooldown_seconds", 1800)
	v.SetDefault("monitor.active_hours_start", 7)
	v.SetDefault("monitor.active_hours_end", 20)
	v.SetDefault("monitor.timezone", "Africa/Johannesburg")
	v.SetDefault("monitor.scrape_delay_min_seconds", 5)
	v.SetDefault("monitor.scrape_delay_max_seconds", 15)
	v.SetDefault("monitor.max_attempts", 3)
	v.SetDefault("monitor.heartbeat_file", "data/heartbeat")
	v.SetDefault("monitor.dry_run", false)
	v.SetDefault("target.base_url", scraper.DefaultBaseURL)
	v.SetDefault("scraper.timeout_seconds", 20)
	v.SetDefault("scraper.body_length_threshold", 2048)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.profile_dir", "data/browser-profile")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.startup_timeout_seconds", 20)
	v.SetDefault("browser.shutdown_grace_seconds", 5)
	v.SetDefault("browser.human_delay_min_ms", 2000)
	v.SetDefault("browser.human_delay_max_ms", 5000)
	v.SetDefault("browser.debug_dump", false)
	v.SetDefault("browser.dump_dir", "data")
	v.SetDefault("whatsapp.gateway_url", "http://127.0.0.1:18789")
	v.SetDefault("history.path", "data/alert_history.json")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "logs/ddbot.log")
}

// normalize trims list entries and filters slugs. Env values arrive as one
// comma-separated string per list.
func (c *Config) normalize() {
	c.DroppedServices = nil
	var services []string
	for _, s := range splitList(c.Monitor.Services) {
		s = strings.ToLower(s)
		if !slugPattern.MatchString(s) {
			c.DroppedServices = append(c.DroppedServices, s)
			continue
		}
		services = append(services, s)
	}
	c.Monitor.Services = services
	c.WhatsApp.Recipients = splitList(c.WhatsApp.Recipients)
	c.Telegram.ChatIDs = splitList(c.Telegram.ChatIDs)
	c.Webhook.URLs = splitList(c.Webhook.URLs)
	c.Browser.ExtraFlags = splitList(c.Browser.ExtraFlags)
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ValidSlug reports whether s can be used as a service slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	m := c.Monitor
	if len(m.Services) == 0 {
		return errors.New("monitor.services must contain at least one valid service")
	}
	if m.Threshold < 1 {
		return errors.New("monitor.threshold must be >= 1")
	}
	if m.PollIntervalSeconds < 10 {
		return errors.New("monitor.poll_interval_seconds must be >= 10")
	}
	if m.AlertCooldownSeconds < 0 {
		return errors.New("monitor.alert_cooldown_seconds must be >= 0")
	}
	if m.ActiveHoursStart < 0 || m.ActiveHoursStart > 23 {
		return errors.New("monitor.active_hours_start must be 0-23")
	}
	if m.ActiveHoursEnd < 0 || m.ActiveHoursEnd > 23 {
		return errors.New("monitor.active_hours_end must be 0-23")
	}
	if m.ActiveHoursStart >= m.ActiveHoursEnd {
		return errors.New("monitor.active_hours_start must be less than monitor.active_hours_end")
	}
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fmt.Errorf("monitor.timezone %q: %w", m.Timezone, err)
	}
	if m.ScrapeDelayMinSeconds < 0 {
		return errors.New("monitor.scrape_delay_min_seconds must be >= 0")
	}
	if m.ScrapeDelayMaxSeconds < m.ScrapeDelayMinSeconds {
		return errors.New("monitor.scrape_delay_max_seconds must be >= monitor.scrape_delay_min_seconds")
	}
	if m.MaxAttempts < 1 {
		return errors.New("monitor.max_attempts must be >= 1")
	}
	if c.Target.BaseURL == "" {
		return errors.New("target.base_url must be set")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return errors.New("scraper.timeout_seconds must be > 0")
	}
	if c.Browser.Enabled {
		if c.Browser.ProfileDir == "" {
			return errors.New("browser.profile_dir must be set when the browser is enabled")
		}
		if c.Browser.HumanDelayMaxMillis < c.Browser.HumanDelayMinMillis {
			return errors.New("browser.human_delay_max_ms must be >= browser.human_delay_min_ms")
		}
	}
	if c.History.Path == "" {
		return errors.New("history.path must be set")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if m.DryRun {
		return nil
	}
	return c.validateNotifiers()
}

func (c Config) validateNotifiers() error {
	wa, tg := c.WhatsApp, c.Telegram
	if len(wa.Recipients) > 0 && wa.GatewayToken == "" {
		return errors.New("whatsapp.gateway_token is required when recipients are configured")
	}
	if len(tg.ChatIDs) > 0 && tg.BotToken == "" {
		return errors.New("telegram.bot_token is required when chat ids are configured")
	}
	if len(wa.Recipients) == 0 && len(tg.ChatIDs) == 0 && len(c.Webhook.URLs) == 0 {
		return errors.New("at least one notification recipient must be configured")
	}
	return nil
}

// PollInterval returns the base cycle wait.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalSeconds) * time.Second
}

// AlertCooldown returns the per-service alert suppression window.
func (c Config) AlertCooldown() time.Duration {
	return time.Duration(c.Monitor.AlertCooldownSeconds) * time.Second
}

// ScrapeDelay returns the jitter bounds applied between services.
func (c Config) ScrapeDelay() (time.Duration, time.Duration) {
	return time.Duration(c.Monitor.ScrapeDelayMinSeconds) * time.Second,
		time.Duration(c.Monitor.ScrapeDelayMaxSeconds) * time.Second
}

// Location loads the active-hours timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Monitor.Timezone)
}
