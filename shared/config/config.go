package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported summarization providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// Caps are seeded before the file is parsed so an explicit zero in the file
// survives while an omitted key falls back to its default.
const (
	defaultMaxChannels         = 20
	defaultMaxVideosPerChannel = 3
	defaultDaysBack            = 1
)

type Config struct {
	YouTube    YouTubeConfig    `yaml:"youtube"`
	AI         AIConfig         `yaml:"ai"`
	Report     ReportConfig     `yaml:"report"`
	Email      EmailConfig      `yaml:"email"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Schedule   string           `yaml:"schedule"`
}

type YouTubeConfig struct {
	ClientID            string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret        string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	TokenFile           string `yaml:"token_file"`
	MaxChannels         int    `yaml:"max_channels"`
	MaxVideosPerChannel int    `yaml:"max_videos_per_channel"`
	DaysBack            int    `yaml:"days_back"`
}

type AIConfig struct {
	Provider         string `yaml:"provider"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key" env:"OPENROUTER_API_KEY"`
	GeminiAPIKey     string `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	Model            string `yaml:"model"`
	TargetLanguage   string `yaml:"target_language"`
	Workers          int    `yaml:"workers"`
	RatePerMinute    int    `yaml:"rate_per_minute"`
}

type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
	// FontFile is an optional TTF registered for regular, bold and italic
	// text. Required for CJK output; the built-in Helvetica face is used
	// when unset.
	FontFile string `yaml:"font_file"`
}

type EmailConfig struct {
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port"`
	Username   string `yaml:"username" env:"EMAIL_USERNAME"`
	Password   string `yaml:"password" env:"EMAIL_PASSWORD"`
	FromEmail  string `yaml:"from_email"`
	ToEmail    string `yaml:"to_email"`
}

type MonitoringConfig struct {
	HealthPort int `yaml:"health_port"`
}

// Load resolves the run configuration: built-in defaults, then the YAML
// file, then environment variables for any secrets the file leaves blank.
// The returned value is treated as read-only by every stage; a missing
// required key is a startup error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = "config.yaml"
	}

	cfg := Config{
		YouTube: YouTubeConfig{
			MaxChannels:         defaultMaxChannels,
			MaxVideosPerChannel: defaultMaxVideosPerChannel,
			DaysBack:            defaultDaysBack,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if cfg.YouTube.ClientID == "" {
		cfg.YouTube.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if cfg.YouTube.ClientSecret == "" {
		cfg.YouTube.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	if cfg.AI.OpenRouterAPIKey == "" {
		cfg.AI.OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if cfg.AI.GeminiAPIKey == "" {
		cfg.AI.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Email.Username == "" {
		cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	}
	if cfg.Email.Password == "" {
		cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.YouTube.TokenFile == "" {
		cfg.YouTube.TokenFile = "youtube_token.json"
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = ProviderOpenRouter
	}
	if cfg.AI.Model == "" {
		switch cfg.AI.Provider {
		case ProviderGemini:
			cfg.AI.Model = "gemini-2.5-flash"
		default:
			cfg.AI.Model = "google/gemini-2.5-pro"
		}
	}
	if cfg.AI.TargetLanguage == "" {
		cfg.AI.TargetLanguage = "Simplified Chinese"
	}
	if cfg.AI.Workers < 1 {
		cfg.AI.Workers = 5
	}
	if cfg.AI.RatePerMinute < 1 {
		cfg.AI.RatePerMinute = 30
	}
	if cfg.Report.OutputDir == "" {
		cfg.Report.OutputDir = "reports"
	}
	if cfg.Email.SMTPServer == "" {
		cfg.Email.SMTPServer = "smtp.gmail.com"
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = 587
	}
	if cfg.Email.FromEmail == "" {
		cfg.Email.FromEmail = cfg.Email.Username
	}
	if cfg.Monitoring.HealthPort == 0 {
		cfg.Monitoring.HealthPort = 8080
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 8 * * *" // Daily at 8 AM
	}
}

func (c *Config) validate() error {
	if c.YouTube.ClientID == "" {
		return fmt.Errorf("YouTube client ID is required (set GOOGLE_CLIENT_ID or youtube.client_id)")
	}
	if c.YouTube.ClientSecret == "" {
		return fmt.Errorf("YouTube client secret is required (set GOOGLE_CLIENT_SECRET or youtube.client_secret)")
	}
	if c.YouTube.MaxChannels < 0 {
		return fmt.Errorf("youtube.max_channels cannot be negative")
	}
	if c.YouTube.MaxVideosPerChannel < 0 {
		return fmt.Errorf("youtube.max_videos_per_channel cannot be negative")
	}
	if c.YouTube.DaysBack < 0 {
		return fmt.Errorf("youtube.days_back cannot be negative")
	}

	switch c.AI.Provider {
	case ProviderOpenRouter:
		if c.AI.OpenRouterAPIKey == "" {
			return fmt.Errorf("OpenRouter API key is required (set OPENROUTER_API_KEY or ai.openrouter_api_key)")
		}
	case ProviderGemini:
		if c.AI.GeminiAPIKey == "" {
			return fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or ai.gemini_api_key)")
		}
	default:
		return fmt.Errorf("unknown ai.provider %q (expected %q or %q)", c.AI.Provider, ProviderOpenRouter, ProviderGemini)
	}

	if c.Email.Username == "" {
		return fmt.Errorf("Email username is required (set EMAIL_USERNAME or email.username)")
	}
	if c.Email.Password == "" {
		return fmt.Errorf("Email password is required (set EMAIL_PASSWORD or email.password)")
	}
	if c.Email.ToEmail == "" {
		return fmt.Errorf("Email recipient is required (set email.to_email)")
	}
	return nil
}
