package config

import (
	"fmt"
	"strings"
	"time"
)

// Supported llm.provider values.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Supported storage.driver values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const keychainService = "fieldhand"

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Assistant AssistantConfig
	Intent    IntentConfig
	Cache     CacheConfig
	Schema    SchemaConfig
	SQLGen    SQLGenConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	PostgresDSN string
}

type LLMConfig struct {
	Provider        string
	Model           string
	EnhanceModel    string
	BaseURL         string
	MaxRetries      int
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

type AssistantConfig struct {
	HarvestOffsetMonths int
	ForecastMonths      int
	EnhanceEnabled      bool
	IntentTimeout       string
	QueryTimeout        string
	EnhanceTimeout      string
	// DefaultUserID is the farm owner the CLI and MCP session act for.
	DefaultUserID int
}

type IntentConfig struct {
	MaxAttempts int
}

type CacheConfig struct {
	RedisAddr string
	TTL       string
}

type SchemaConfig struct {
	ScopeTTL string
}

type SQLGenConfig struct {
	ExecuteEnabled bool
	MaxRows        int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Driver:  DriverSQLite,
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Provider:   ProviderGemini,
			Model:      "gemini-2.5-flash",
			MaxRetries: 2,
		},
		Assistant: AssistantConfig{
			HarvestOffsetMonths: 9,
			ForecastMonths:      3,
			EnhanceEnabled:      true,
			IntentTimeout:       "15s",
			QueryTimeout:        "5s",
			EnhanceTimeout:      "15s",
		},
		Intent: IntentConfig{
			MaxAttempts: 2,
		},
		Cache: CacheConfig{
			TTL: "10m",
		},
		Schema: SchemaConfig{
			ScopeTTL: "60s",
		},
		SQLGen: SQLGenConfig{
			MaxRows: 100,
		},
	}
}

// Load reads configuration from the platform settings store, environment
// variables and the platform secret store.
//
// On macOS the store is UserDefaults (domain: com.kalambet.fieldhand) and
// secrets fall back to macOS Keychain. Elsewhere it is a JSON file at
// $XDG_CONFIG_HOME/fieldhand/config.json and secrets fall back to
// $XDG_DATA_HOME/fieldhand/secrets.json.
//
// Environment variables (FIELDHAND_*) override stored values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformStore(), NewKeychain())
}

// SecretReader abstracts keychain reads for testing.
type SecretReader interface {
	Get(service, account string) (string, error)
}

func loadWith(b Store, kc SecretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applyKeychain(&cfg, kc)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyKeychain fills empty secrets from the platform secret store.
func applyKeychain(cfg *Config, kc SecretReader) {
	for _, s := range specs {
		if !s.secret || s.account == "" {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("missing required config: Postgres DSN. Set it via environment variable FIELDHAND_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (want %s or %s)", cfg.Storage.Driver, DriverSQLite, DriverPostgres)
	}

	var key, env string
	switch cfg.LLM.Provider {
	case ProviderGemini:
		key, env = cfg.LLM.GeminiAPIKey, "FIELDHAND_GEMINI_API_KEY"
	case ProviderOpenAI:
		key, env = cfg.LLM.OpenAIAPIKey, "FIELDHAND_OPENAI_API_KEY"
	case ProviderAnthropic:
		key, env = cfg.LLM.AnthropicAPIKey, "FIELDHAND_ANTHROPIC_API_KEY"
	case ProviderOllama:
		return nil
	default:
		return fmt.Errorf("unknown llm.provider %q", cfg.LLM.Provider)
	}
	if key == "" {
		msg := fmt.Sprintf("missing required config: %s API key. Set it via environment variable %s", cfg.LLM.Provider, env) +
			apiKeyHint(cfg.LLM.Provider)
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// APIKey returns the credential for the configured provider.
func (c LLMConfig) APIKey() string {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	}
	return ""
}

// EnhancementModel falls back to the main model when no dedicated one is set.
func (c LLMConfig) EnhancementModel() string {
	if c.EnhanceModel != "" {
		return c.EnhanceModel
	}
	return c.Model
}

// Duration parses a duration-valued key, returning def when raw is empty or invalid.
// The boolean result is false when raw was set but could not be parsed.
func Duration(raw string, def time.Duration) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def, false
	}
	return d, true
}
