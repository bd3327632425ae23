package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // keychain account for secrets
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FIELDHAND_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "FIELDHAND_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "FIELDHAND_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "storage.driver", typ: kString, env: "FIELDHAND_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FIELDHAND_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "FIELDHAND_POSTGRES_DSN",
		secret: true, account: "postgres_dsn",
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "llm.provider", typ: kString, env: "FIELDHAND_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "FIELDHAND_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.enhance_model", typ: kString, env: "FIELDHAND_LLM_ENHANCE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.EnhanceModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EnhanceModel },
	},
	{
		key: "llm.base_url", typ: kString, env: "FIELDHAND_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.max_retries", typ: kInt, env: "FIELDHAND_LLM_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxRetries },
	},
	{
		key: "llm.gemini_api_key", typ: kString, env: "FIELDHAND_GEMINI_API_KEY",
		secret: true, account: apiKeyAccount(ProviderGemini),
		apply:   func(cfg *Config, v any) { cfg.LLM.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.GeminiAPIKey },
	},
	{
		key: "llm.openai_api_key", typ: kString, env: "FIELDHAND_OPENAI_API_KEY",
		secret: true, account: apiKeyAccount(ProviderOpenAI),
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIAPIKey },
	},
	{
		key: "llm.anthropic_api_key", typ: kString, env: "FIELDHAND_ANTHROPIC_API_KEY",
		secret: true, account: apiKeyAccount(ProviderAnthropic),
		apply:   func(cfg *Config, v any) { cfg.LLM.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.AnthropicAPIKey },
	},
	{
		key: "assistant.harvest_offset_months", typ: kInt, env: "FIELDHAND_HARVEST_OFFSET_MONTHS",
		apply:   func(cfg *Config, v any) { cfg.Assistant.HarvestOffsetMonths = v.(int) },
		extract: func(cfg Config) any { return cfg.Assistant.HarvestOffsetMonths },
	},
	{
		key: "assistant.forecast_months", typ: kInt, env: "FIELDHAND_FORECAST_MONTHS",
		apply:   func(cfg *Config, v any) { cfg.Assistant.ForecastMonths = v.(int) },
		extract: func(cfg Config) any { return cfg.Assistant.ForecastMonths },
	},
	{
		key: "assistant.enhance_enabled", typ: kBool, env: "FIELDHAND_ENHANCE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Assistant.EnhanceEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Assistant.EnhanceEnabled },
	},
	{
		key: "assistant.intent_timeout", typ: kString, env: "FIELDHAND_INTENT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Assistant.IntentTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.IntentTimeout },
	},
	{
		key: "assistant.query_timeout", typ: kString, env: "FIELDHAND_QUERY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Assistant.QueryTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.QueryTimeout },
	},
	{
		key: "assistant.enhance_timeout", typ: kString, env: "FIELDHAND_ENHANCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Assistant.EnhanceTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.EnhanceTimeout },
	},
	{
		key: "assistant.default_user_id", typ: kInt, env: "FIELDHAND_DEFAULT_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Assistant.DefaultUserID = v.(int) },
		extract: func(cfg Config) any { return cfg.Assistant.DefaultUserID },
	},
	{
		key: "intent.max_attempts", typ: kInt, env: "FIELDHAND_INTENT_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Intent.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Intent.MaxAttempts },
	},
	{
		key: "cache.redis_addr", typ: kString, env: "FIELDHAND_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisAddr },
	},
	{
		key: "cache.ttl", typ: kString, env: "FIELDHAND_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "schema.scope_ttl", typ: kString, env: "FIELDHAND_SCHEMA_SCOPE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Schema.ScopeTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Schema.ScopeTTL },
	},
	{
		key: "sqlgen.execute_enabled", typ: kBool, env: "FIELDHAND_SQLGEN_EXECUTE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.SQLGen.ExecuteEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.SQLGen.ExecuteEnabled },
	},
	{
		key: "sqlgen.max_rows", typ: kInt, env: "FIELDHAND_SQLGEN_MAX_ROWS",
		apply:   func(cfg *Config, v any) { cfg.SQLGen.MaxRows = v.(int) },
		extract: func(cfg Config) any { return cfg.SQLGen.MaxRows },
	},
}

func applyBackend(cfg *Config, b Store) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
