package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const DefaultEndpoint = "https://openapi.gptbots.ai/v1/chat"

// Config is built once at startup and shared read-only by the dispatcher,
// the relay client and the Telegram sender.
type Config struct {
	TelegramBotToken string
	TelegramAPIURL   string
	WebhookSecret    string
	WebhookURL       string

	GPTBotsAPIKey  string
	GPTBotsAgentID string
	Endpoints      []Endpoint

	RelayBudget     time.Duration
	RelayMinAttempt time.Duration
	SendTimeout     time.Duration
	TypingTimeout   time.Duration

	MessageLimitPerDay int
	ProcessingNotice   bool
	Menu               *Menu

	DataDir         string
	Port            string
	LogLevel        string
	LogPretty       bool
	LogFile         string
	ShutdownTimeout time.Duration
}

// environment is the raw variable set; Load turns it into a Config.
type environment struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL   string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	WebhookSecret    string `env:"WEBHOOK_SECRET"`
	WebhookURL       string `env:"WEBHOOK_URL"`

	GPTBotsAPIKey    string   `env:"GPTBOTS_API_KEY"`
	GPTBotsAgentID   string   `env:"GPTBOTS_AGENT_ID"`
	GPTBotsEndpoints []string `env:"GPTBOTS_ENDPOINTS" envSeparator:","`
	GPTBotsAuth      string   `env:"GPTBOTS_AUTH" envDefault:"apikey"`

	RelayBudget     time.Duration `env:"RELAY_BUDGET" envDefault:"9s"`
	RelayMinAttempt time.Duration `env:"RELAY_MIN_ATTEMPT" envDefault:"2s"`
	SendTimeout     time.Duration `env:"SEND_TIMEOUT" envDefault:"5s"`
	TypingTimeout   time.Duration `env:"TYPING_TIMEOUT" envDefault:"2s"`

	MessageLimitPerDay int    `env:"MESSAGE_LIMIT_PER_DAY" envDefault:"30"`
	ProcessingNotice   bool   `env:"PROCESSING_NOTICE" envDefault:"false"`
	MenuFile           string `env:"MENU_FILE"`

	DataDir         string        `env:"DATA_DIR"`
	Port            string        `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY" envDefault:"false"`
	LogFile         string        `env:"LOG_FILE"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads the process environment (and an optional .env file) into a Config.
// Missing credentials are not an error here: the sender and relay client
// answer for themselves when their keys are absent. See MissingCredentials.
func Load() (*Config, error) {
	// .env is optional — env vars may already be set (e.g. in production)
	_ = godotenv.Load()

	var raw environment
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	defaultAuth, err := ParseAuthScheme(raw.GPTBotsAuth)
	if err != nil {
		return nil, fmt.Errorf("GPTBOTS_AUTH: %w", err)
	}

	entries := raw.GPTBotsEndpoints
	if len(entries) == 0 {
		entries = []string{DefaultEndpoint}
	}
	endpoints, err := ParseEndpoints(entries, defaultAuth)
	if err != nil {
		return nil, fmt.Errorf("GPTBOTS_ENDPOINTS: %w", err)
	}

	menu := DefaultMenu(raw.MessageLimitPerDay)
	if raw.MenuFile != "" {
		menu, err = LoadMenu(raw.MenuFile, raw.MessageLimitPerDay)
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		TelegramBotToken:   strings.TrimSpace(raw.TelegramBotToken),
		TelegramAPIURL:     strings.TrimRight(strings.TrimSpace(raw.TelegramAPIURL), "/"),
		WebhookSecret:      strings.TrimSpace(raw.WebhookSecret),
		WebhookURL:         strings.TrimSpace(raw.WebhookURL),
		GPTBotsAPIKey:      strings.TrimSpace(raw.GPTBotsAPIKey),
		GPTBotsAgentID:     strings.TrimSpace(raw.GPTBotsAgentID),
		Endpoints:          endpoints,
		RelayBudget:        raw.RelayBudget,
		RelayMinAttempt:    raw.RelayMinAttempt,
		SendTimeout:        raw.SendTimeout,
		TypingTimeout:      raw.TypingTimeout,
		MessageLimitPerDay: raw.MessageLimitPerDay,
		ProcessingNotice:   raw.ProcessingNotice,
		Menu:               menu,
		DataDir:            strings.TrimSpace(raw.DataDir),
		Port:               strings.TrimSpace(raw.Port),
		LogLevel:           strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		LogPretty:          raw.LogPretty,
		LogFile:            strings.TrimSpace(raw.LogFile),
		ShutdownTimeout:    raw.ShutdownTimeout,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []string
	if c.Port == "" {
		problems = append(problems, "PORT is empty")
	}
	if c.TelegramAPIURL == "" {
		problems = append(problems, "TELEGRAM_API_URL is empty")
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"RELAY_BUDGET", c.RelayBudget},
		{"RELAY_MIN_ATTEMPT", c.RelayMinAttempt},
		{"SEND_TIMEOUT", c.SendTimeout},
		{"TYPING_TIMEOUT", c.TypingTimeout},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
	} {
		if d.val <= 0 {
			problems = append(problems, d.name+" must be positive")
		}
	}
	if c.MessageLimitPerDay < 0 {
		problems = append(problems, "MESSAGE_LIMIT_PER_DAY must not be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// MissingCredentials lists the credential variables that are not set.
func (c *Config) MissingCredentials() []string {
	var missing []string
	for _, req := range []struct {
		name, val string
	}{
		{"TELEGRAM_BOT_TOKEN", c.TelegramBotToken},
		{"GPTBOTS_API_KEY", c.GPTBotsAPIKey},
		{"GPTBOTS_AGENT_ID", c.GPTBotsAgentID},
	} {
		if req.val == "" {
			missing = append(missing, req.name)
		}
	}
	return missing
}

// RelayConfigured reports whether the AI backend credentials are present.
func (c *Config) RelayConfigured() bool {
	return c.GPTBotsAPIKey != "" && c.GPTBotsAgentID != ""
}
