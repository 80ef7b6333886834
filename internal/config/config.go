// Package config loads service configuration from the environment and an
// optional YAML file. Configuration is loaded once in main and passed into
// constructors; nothing reads it ambiently.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig `koanf:"server"`
	OpenAI OpenAIConfig `koanf:"openai"`
	// Provider configures the remote streaming relay. When both URL and
	// SiteKey are set the assistant talks to the relay and never constructs
	// a local OpenAI client, even if an API key is also present.
	Provider ProviderConfig `koanf:"provider"`
	Relay    RelayConfig    `koanf:"relay"`
	Store    StoreConfig    `koanf:"store"`
	Index    IndexConfig    `koanf:"index"`
	Chat     ChatConfig     `koanf:"chat"`
	Mail     MailConfig     `koanf:"mail"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

type ProviderConfig struct {
	URL     string `koanf:"url"`
	SiteKey string `koanf:"site_key"`
}

// RelayConfig configures the provider relay binary. SiteKeyHashes holds
// SHA-256 hashes of the site keys issued to chatbot installs (see cmd/keygen).
type RelayConfig struct {
	SiteKeyHashes []string `koanf:"site_key_hashes"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type IndexConfig struct {
	Dir string `koanf:"dir"`
}

type ChatConfig struct {
	SiteName       string `koanf:"site_name"`
	Persona        string `koanf:"persona"`
	Language       string `koanf:"language"`
	HandoffEnabled bool   `koanf:"handoff_enabled"`
	MaxToolRounds  int    `koanf:"max_tool_rounds"`
	// TokenBudget bounds the prompt size; oldest history is dropped first.
	TokenBudget int         `koanf:"token_budget"`
	FAQs        []FAQConfig `koanf:"faqs"`
}

// FAQConfig is a question/answer pair injected verbatim into the system
// prompt.
type FAQConfig struct {
	Question string `koanf:"question"`
	Answer   string `koanf:"answer"`
}

type MailConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	Admin    string `koanf:"admin"`
}

// Load reads configuration from the optional YAML file at path (skipped when
// empty or missing) and then from STORECHAT_-prefixed environment variables,
// which take precedence. Double underscores separate nesting levels, e.g.
// STORECHAT_SERVER__PORT=9000.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("STORECHAT_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "STORECHAT_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	substituteConfig(&cfg)
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":          8080,
		"openai.model":         "gpt-4o-mini",
		"store.path":           "./data/storechat.db",
		"index.dir":            "./data/index",
		"chat.max_tool_rounds": 10,
		"chat.token_budget":    12000,
		"mail.port":            587,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnvVars expands ${VAR} references so secrets can live outside
// the config file.
func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func substituteConfig(cfg *Config) {
	cfg.OpenAI.APIKey = substituteEnvVars(cfg.OpenAI.APIKey)
	cfg.Provider.SiteKey = substituteEnvVars(cfg.Provider.SiteKey)
	cfg.Mail.Password = substituteEnvVars(cfg.Mail.Password)
	for i, h := range cfg.Relay.SiteKeyHashes {
		cfg.Relay.SiteKeyHashes[i] = substituteEnvVars(h)
	}
}

// ProviderMode reports whether the assistant should talk to the remote
// relay. This is a hard precedence rule, not a fallback order.
func (c *Config) ProviderMode() bool {
	return c.Provider.URL != "" && c.Provider.SiteKey != ""
}

// ChatConfigured reports whether any completion backend is reachable at all.
func (c *Config) ChatConfigured() bool {
	return c.ProviderMode() || c.OpenAI.APIKey != ""
}
