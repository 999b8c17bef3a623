package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123456" and 123456.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Channels    ChannelsConfig    `json:"channels"`
	Providers   ProvidersConfig   `json:"providers"`
	Gateway     GatewayConfig     `json:"gateway"`
	Store       StoreConfig       `json:"store"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	LogLevel    string            `json:"log_level" env:"ELAJ_LOG_LEVEL"`
	mu          sync.RWMutex
}

type AgentConfig struct {
	// EscalationContact is offered to the user on backend failure or timeout.
	EscalationContact string `json:"escalation_contact" env:"ELAJ_AGENT_ESCALATION_CONTACT"`

	PromptBudgetChars  int `json:"prompt_budget_chars" env:"ELAJ_AGENT_PROMPT_BUDGET_CHARS"`
	HistoryTurns       int `json:"history_turns" env:"ELAJ_AGENT_HISTORY_TURNS"`
	PromptHistoryTurns int `json:"prompt_history_turns" env:"ELAJ_AGENT_PROMPT_HISTORY_TURNS"`
	ProfileLookback    int `json:"profile_lookback" env:"ELAJ_AGENT_PROFILE_LOOKBACK"`
	ActivityEvents     int `json:"activity_events" env:"ELAJ_AGENT_ACTIVITY_EVENTS"`

	HistoryTTLDays     int `json:"history_ttl_days" env:"ELAJ_AGENT_HISTORY_TTL_DAYS"`
	ProfileTTLDays     int `json:"profile_ttl_days" env:"ELAJ_AGENT_PROFILE_TTL_DAYS"`
	ProfileRefreshDays int `json:"profile_refresh_days" env:"ELAJ_AGENT_PROFILE_REFRESH_DAYS"`
	ActivityTTLDays    int `json:"activity_ttl_days" env:"ELAJ_AGENT_ACTIVITY_TTL_DAYS"`
	ImageCacheTTLDays  int `json:"image_cache_ttl_days" env:"ELAJ_AGENT_IMAGE_CACHE_TTL_DAYS"`

	PollIntervalMS   int `json:"poll_interval_ms" env:"ELAJ_AGENT_POLL_INTERVAL_MS"`
	PollDeadlineMS   int `json:"poll_deadline_ms" env:"ELAJ_AGENT_POLL_DEADLINE_MS"`
	TypingIntervalMS int `json:"typing_interval_ms" env:"ELAJ_AGENT_TYPING_INTERVAL_MS"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Token     string              `json:"token" env:"ELAJ_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"ELAJ_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"ELAJ_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"ELAJ_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenAI OpenAIConfig `json:"openai"`
}

type OpenAIConfig struct {
	APIKey      string `json:"api_key" env:"ELAJ_PROVIDERS_OPENAI_API_KEY"`
	APIBase     string `json:"api_base" env:"ELAJ_PROVIDERS_OPENAI_API_BASE"`
	AssistantID string `json:"assistant_id" env:"ELAJ_PROVIDERS_OPENAI_ASSISTANT_ID"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"ELAJ_GATEWAY_HOST"`
	Port int    `json:"port" env:"ELAJ_GATEWAY_PORT"`
}

type StoreConfig struct {
	Path string `json:"path" env:"ELAJ_STORE_PATH"`
}

type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled" env:"ELAJ_MAINTENANCE_ENABLED"`
	Schedule string `json:"schedule" env:"ELAJ_MAINTENANCE_SCHEDULE"` // cron expression
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			EscalationContact:  "@a4k5o6",
			PromptBudgetChars:  6000,
			HistoryTurns:       20,
			PromptHistoryTurns: 5,
			ProfileLookback:    6,
			ActivityEvents:     12,
			HistoryTTLDays:     30,
			ProfileTTLDays:     365,
			ProfileRefreshDays: 3,
			ActivityTTLDays:    60,
			ImageCacheTTLDays:  7,
			PollIntervalMS:     1500,
			PollDeadlineMS:     45000,
			TypingIntervalMS:   5000,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{AllowFrom: FlexibleStringSlice{}},
			Discord:  DiscordConfig{AllowFrom: FlexibleStringSlice{}},
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18850,
		},
		Store: StoreConfig{
			Path: "~/.elaj/state/elaj.db",
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "*/10 * * * *",
		},
		LogLevel: "info",
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// StorePath returns the store path with a leading ~ expanded.
func (c *Config) StorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Store.Path)
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenAI.APIBase != "" {
		return c.Providers.OpenAI.APIBase
	}
	return "https://api.openai.com/v1"
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
