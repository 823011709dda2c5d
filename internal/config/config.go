package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"TemanTenang/internal/persona"
)

const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
)

// DefaultTemperature is the temperature a new session starts with
const DefaultTemperature = 0.7

// Config holds application configuration
type Config struct {
	Backend     string  `toml:"backend"`
	Debug       bool    `toml:"debug"`
	Temperature float64 `toml:"temperature"`
	Persona     string  `toml:"persona"`
	InstanceID  string  `toml:"instance_id"`

	OllamaURL      string `toml:"ollama_url"`
	OllamaModel    string `toml:"ollama_model"` // Model specification in format "model:version" (e.g., "llama3:latest")
	OpenAIModel    string `toml:"openai_model"`
	OpenAIBaseURL  string `toml:"openai_base_url"`
	GrokModel      string `toml:"grok_model"`
	GrokBaseURL    string `toml:"grok_base_url"`
	AnthropicModel string `toml:"anthropic_model"`
	MaxTokens      int    `toml:"max_tokens"`

	// Reply cache
	CacheReplies bool `toml:"cache_replies"`
	CacheSize    int  `toml:"cache_size"`

	// Files
	LogDir      string `toml:"log_dir"`
	JournalPath string `toml:"journal_path"`
	Telemetry   bool   `toml:"telemetry"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Backend:        BackendOllama,
		Temperature:    DefaultTemperature,
		Persona:        "Professional",
		OllamaURL:      "http://localhost:11434",
		OllamaModel:    "llama3:latest",
		OpenAIModel:    "gpt-4o-mini",
		GrokModel:      "grok-2-latest",
		GrokBaseURL:    "https://api.x.ai/v1",
		AnthropicModel: "claude-sonnet-4-20250514",
		MaxTokens:      1024,
		CacheSize:      128,
		LogDir:         "logs",
		JournalPath:    "temantenang.db",
		Telemetry:      true,
	}
}

// Load reads a TOML file over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values a session depends on
func (c Config) Validate() error {
	switch c.Backend {
	case BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI:
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature %.2f out of range [0, 1]", c.Temperature)
	}
	if _, err := persona.Lookup(c.Persona); err != nil {
		return err
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.CacheReplies && c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive when cache_replies is set, got %d", c.CacheSize)
	}
	return nil
}

// ResolveInstanceID returns the identifier shown in the chat header: the
// configured value, then TEMANTENANG_INSTANCE_ID, then the hostname.
func (c Config) ResolveInstanceID() string {
	if c.InstanceID != "" {
		return c.InstanceID
	}
	if id := strings.TrimSpace(os.Getenv("TEMANTENANG_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}

// APIKey returns the API key environment variable for the backend
func APIKey(backend string) (string, error) {
	var name string
	switch backend {
	case BackendOpenAI:
		name = "OPENAI_API_KEY"
	case BackendAnthropic:
		name = "ANTHROPIC_API_KEY"
	case BackendGrok:
		name = "GROK_API_KEY"
	default:
		return "", nil
	}
	key := os.Getenv(name)
	if key == "" {
		return "", fmt.Errorf("%s not set", name)
	}
	return key, nil
}
