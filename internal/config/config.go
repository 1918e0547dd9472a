package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Dave configuration.
type Config struct {
	Bot       BotConfig                 `json:"bot" yaml:"bot"`
	Discord   *DiscordConfig            `json:"discord,omitempty" yaml:"discord,omitempty"`
	Slack     *SlackConfig              `json:"slack,omitempty" yaml:"slack,omitempty"`
	Telegram  *TelegramConfig           `json:"telegram,omitempty" yaml:"telegram,omitempty"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Webhook   WebhookConfig             `json:"webhook" yaml:"webhook"`
	API       APIConfig                 `json:"api" yaml:"api"`
}

// BotConfig holds ticket behaviour settings.
type BotConfig struct {
	Name              string `json:"name" yaml:"name"`
	League            string `json:"league,omitempty" yaml:"league,omitempty"`
	DataDir           string `json:"data_dir" yaml:"data_dir"`
	AutoClose         string `json:"auto_close" yaml:"auto_close"` // Go duration, default 72h
	HistoryLimit      int    `json:"history_limit" yaml:"history_limit"`
	CountdownSchedule string `json:"countdown_schedule" yaml:"countdown_schedule"`
	RulesFile         string `json:"rules_file,omitempty" yaml:"rules_file,omitempty"`
	RulesURL          string `json:"rules_url,omitempty" yaml:"rules_url,omitempty"`
	RulesRefresh      string `json:"rules_refresh,omitempty" yaml:"rules_refresh,omitempty"`
}

// AutoCloseDuration parses Bot.AutoClose.
func (b BotConfig) AutoCloseDuration() (time.Duration, error) {
	d, err := time.ParseDuration(b.AutoClose)
	if err != nil {
		return 0, fmt.Errorf("config: bot.auto_close: %w", err)
	}
	return d, nil
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token          string `json:"token" yaml:"token"`
	GuildID        string `json:"guild_id" yaml:"guild_id"`
	PanelChannelID string `json:"panel_channel_id,omitempty" yaml:"panel_channel_id,omitempty"`
	CategoryID     string `json:"category_id,omitempty" yaml:"category_id,omitempty"`
	StaffRoleID    string `json:"staff_role_id" yaml:"staff_role_id"`
	LogChannelID   string `json:"log_channel_id,omitempty" yaml:"log_channel_id,omitempty"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	BotToken     string `json:"bot_token" yaml:"bot_token"`
	AppToken     string `json:"app_token" yaml:"app_token"`
	StaffGroupID string `json:"staff_group_id" yaml:"staff_group_id"`
	LogChannelID string `json:"log_channel_id,omitempty" yaml:"log_channel_id,omitempty"`
}

// TelegramConfig holds the Telegram audit mirror settings.
type TelegramConfig struct {
	Token     string `json:"token" yaml:"token"`
	LogChatID int64  `json:"log_chat_id" yaml:"log_chat_id"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty" yaml:"type,omitempty"` // "openai" (default), "anthropic" or "gemini"
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
}

// WebhookConfig maps webhook endpoint names to their auth settings.
type WebhookConfig struct {
	Endpoints map[string]WebhookEndpoint `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// WebhookEndpoint authenticates one webhook endpoint. Secret selects
// HMAC-SHA256; otherwise BearerToken is checked.
type WebhookEndpoint struct {
	Secret      string `json:"secret,omitempty" yaml:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`
}

// APIConfig holds operator API server settings.
type APIConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	Key  string `json:"api_key" yaml:"api_key"`
}

// Load reads configuration from a JSON or YAML file. YAML is selected by
// the .yaml/.yml extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from DAVE_ prefixed environment variables.
// DISCORD_TOKEN and GEMINI_API_KEY are honoured as fallbacks.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Bot: BotConfig{
			Name:              os.Getenv("DAVE_BOT_NAME"),
			League:            os.Getenv("DAVE_LEAGUE"),
			DataDir:           getenv("DAVE_DATA_DIR", "/data"),
			AutoClose:         os.Getenv("DAVE_AUTO_CLOSE"),
			HistoryLimit:      getenvInt("DAVE_HISTORY_LIMIT", 0),
			CountdownSchedule: os.Getenv("DAVE_COUNTDOWN_SCHEDULE"),
			RulesFile:         os.Getenv("DAVE_RULES_FILE"),
			RulesURL:          os.Getenv("DAVE_RULES_URL"),
			RulesRefresh:      os.Getenv("DAVE_RULES_REFRESH"),
		},
		Providers: make(map[string]ProviderConfig),
		API: APIConfig{
			Host: getenv("DAVE_API_HOST", "0.0.0.0"),
			Port: getenvInt("DAVE_API_PORT", 8080),
			Key:  os.Getenv("DAVE_API_KEY"),
		},
	}

	// Default provider from env
	model := os.Getenv("DAVE_MODEL")
	if apiKey := getenv("DAVE_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{Type: "gemini", APIKey: apiKey, Model: model}
	} else if apiKey := os.Getenv("DAVE_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{Type: "anthropic", APIKey: apiKey, Model: model}
	} else if apiKey := os.Getenv("DAVE_OPENAI_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: os.Getenv("DAVE_OPENAI_BASE_URL"),
			Model:   model,
		}
	}

	if token := getenv("DAVE_DISCORD_TOKEN", os.Getenv("DISCORD_TOKEN")); token != "" {
		cfg.Discord = &DiscordConfig{
			Token:          token,
			GuildID:        os.Getenv("DAVE_DISCORD_GUILD_ID"),
			PanelChannelID: os.Getenv("DAVE_DISCORD_PANEL_CHANNEL_ID"),
			CategoryID:     os.Getenv("DAVE_DISCORD_CATEGORY_ID"),
			StaffRoleID:    os.Getenv("DAVE_DISCORD_STAFF_ROLE_ID"),
			LogChannelID:   os.Getenv("DAVE_DISCORD_LOG_CHANNEL_ID"),
		}
	}

	if token := os.Getenv("DAVE_SLACK_BOT_TOKEN"); token != "" {
		cfg.Slack = &SlackConfig{
			BotToken:     token,
			AppToken:     os.Getenv("DAVE_SLACK_APP_TOKEN"),
			StaffGroupID: os.Getenv("DAVE_SLACK_STAFF_GROUP_ID"),
			LogChannelID: os.Getenv("DAVE_SLACK_LOG_CHANNEL_ID"),
		}
	}

	if token := os.Getenv("DAVE_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram = &TelegramConfig{Token: token}
		if id := os.Getenv("DAVE_TELEGRAM_LOG_CHAT_ID"); id != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("config: DAVE_TELEGRAM_LOG_CHAT_ID: invalid integer %q", id)
			}
			cfg.Telegram.LogChatID = n
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bot.Name == "" {
		c.Bot.Name = "Dave"
	}
	if c.Bot.League == "" {
		c.Bot.League = "Total Racing League"
	}
	if c.Bot.AutoClose == "" {
		c.Bot.AutoClose = "72h"
	}
	if c.Bot.HistoryLimit == 0 {
		c.Bot.HistoryLimit = 100
	}
	if c.Bot.CountdownSchedule == "" {
		c.Bot.CountdownSchedule = "@every 1h"
	}
	if c.Bot.RulesURL != "" && c.Bot.RulesRefresh == "" {
		c.Bot.RulesRefresh = "@every 6h"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// Validate checks for required fields and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Bot.DataDir == "" {
		errs = append(errs, "bot.data_dir is required")
	}
	if d, err := time.ParseDuration(c.Bot.AutoClose); err != nil {
		errs = append(errs, fmt.Sprintf("bot.auto_close: invalid duration %q", c.Bot.AutoClose))
	} else if d <= 0 {
		errs = append(errs, "bot.auto_close must be positive")
	}
	if c.Bot.HistoryLimit < 0 {
		errs = append(errs, "bot.history_limit must not be negative")
	}
	if _, err := cron.ParseStandard(c.Bot.CountdownSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("bot.countdown_schedule: %v", err))
	}
	if c.Bot.RulesRefresh != "" {
		if _, err := cron.ParseStandard(c.Bot.RulesRefresh); err != nil {
			errs = append(errs, fmt.Sprintf("bot.rules_refresh: %v", err))
		}
	}

	if _, ok := c.Providers["default"]; !ok {
		errs = append(errs, "providers.default is required")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		switch p.Type {
		case "", "openai", "anthropic", "gemini":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s.type %q is not one of openai, anthropic, gemini", name, p.Type))
		}
	}

	switch {
	case c.Discord != nil && c.Slack != nil:
		errs = append(errs, "configure exactly one of discord or slack, not both")
	case c.Discord == nil && c.Slack == nil:
		errs = append(errs, "one of discord or slack is required")
	}
	if d := c.Discord; d != nil {
		if d.Token == "" {
			errs = append(errs, "discord.token is required")
		}
		if d.GuildID == "" {
			errs = append(errs, "discord.guild_id is required")
		}
		if d.StaffRoleID == "" {
			errs = append(errs, "discord.staff_role_id is required")
		}
	}
	if s := c.Slack; s != nil {
		if s.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if s.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
		if s.StaffGroupID == "" {
			errs = append(errs, "slack.staff_group_id is required")
		}
	}
	if t := c.Telegram; t != nil {
		if t.Token == "" {
			errs = append(errs, "telegram.token is required")
		}
		if t.LogChatID == 0 {
			errs = append(errs, "telegram.log_chat_id is required")
		}
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d out of range", c.API.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogChannelID returns the audit channel of whichever platform is configured.
func (c *Config) LogChannelID() string {
	switch {
	case c.Discord != nil:
		return c.Discord.LogChannelID
	case c.Slack != nil:
		return c.Slack.LogChannelID
	}
	return ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
