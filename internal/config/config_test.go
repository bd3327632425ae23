package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mapStore is an in-memory Store.
type mapStore struct {
	strs map[string]string
	ints map[string]int
}

func newMapStore() *mapStore {
	return &mapStore{strs: map[string]string{}, ints: map[string]int{}}
}

func (b *mapStore) GetString(key string) (string, bool, error) {
	v, ok := b.strs[key]
	return v, ok, nil
}

func (b *mapStore) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *mapStore) SetString(key, val string) error {
	b.strs[key] = val
	return nil
}

func (b *mapStore) SetInt(key string, val int) error {
	b.ints[key] = val
	return nil
}

func (b *mapStore) Delete(key string) error {
	delete(b.strs, key)
	delete(b.ints, key)
	return nil
}

func (b *mapStore) Location() string { return "memory" }

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[service+"/"+account] = value
	return nil
}

func clearSecretsEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv("FIELDHAND_API_TOKEN", "")
}

func TestDefaults(t *testing.T) {
	clearSecretsEnv(t)
	kc := &mockKeychain{values: map[string]string{"fieldhand/gemini_api_key": "kc-key"}}

	cfg, err := loadWith(newMapStore(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.LLM.Provider != ProviderGemini {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, ProviderGemini)
	}
	if cfg.LLM.GeminiAPIKey != "kc-key" {
		t.Errorf("LLM.GeminiAPIKey = %q, want kc-key", cfg.LLM.GeminiAPIKey)
	}
	if cfg.Assistant.HarvestOffsetMonths != 9 {
		t.Errorf("HarvestOffsetMonths = %d, want 9", cfg.Assistant.HarvestOffsetMonths)
	}
	if !cfg.Assistant.EnhanceEnabled {
		t.Error("EnhanceEnabled = false, want true")
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.SQLGen.ExecuteEnabled {
		t.Error("SQLGen.ExecuteEnabled = true, want false by default")
	}
	if cfg.SQLGen.MaxRows != 100 {
		t.Errorf("SQLGen.MaxRows = %d, want 100", cfg.SQLGen.MaxRows)
	}
}

func TestStoredValues(t *testing.T) {
	clearSecretsEnv(t)
	t.Setenv("FIELDHAND_OPENAI_API_KEY", "sk-test")

	b := newMapStore()
	b.strs["llm.provider"] = "openai"
	b.strs["llm.model"] = "gpt-4o-mini"
	b.strs["assistant.enhance_enabled"] = "false"
	b.strs["storage.data_dir"] = "/tmp/fieldhand-test"
	b.ints["server.port"] = 9000
	b.ints["assistant.harvest_offset_months"] = 10

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Provider != ProviderOpenAI || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Assistant.EnhanceEnabled {
		t.Error("EnhanceEnabled = true, want false from store")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Assistant.HarvestOffsetMonths != 10 {
		t.Errorf("HarvestOffsetMonths = %d, want 10", cfg.Assistant.HarvestOffsetMonths)
	}
	if cfg.Storage.DataDir != "/tmp/fieldhand-test" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.LLM.APIKey() != "sk-test" {
		t.Errorf("APIKey() = %q, want sk-test", cfg.LLM.APIKey())
	}
}

func TestEnvOverride(t *testing.T) {
	clearSecretsEnv(t)
	t.Setenv("FIELDHAND_GEMINI_API_KEY", "env-key")
	t.Setenv("FIELDHAND_SERVER_PORT", "5555")
	t.Setenv("FIELDHAND_SQLGEN_EXECUTE_ENABLED", "true")

	b := newMapStore()
	b.ints["server.port"] = 9000
	kc := &mockKeychain{values: map[string]string{"fieldhand/gemini_api_key": "kc-key"}}

	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.GeminiAPIKey != "env-key" {
		t.Errorf("GeminiAPIKey = %q, want env-key (env beats keychain)", cfg.LLM.GeminiAPIKey)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555", cfg.Server.Port)
	}
	if !cfg.SQLGen.ExecuteEnabled {
		t.Error("ExecuteEnabled = false, want true from env")
	}
}

func TestInvalidEnvIntKeepsDefault(t *testing.T) {
	clearSecretsEnv(t)
	t.Setenv("FIELDHAND_GEMINI_API_KEY", "k")
	t.Setenv("FIELDHAND_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(newMapStore(), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default 4100", cfg.Server.Port)
	}
}

func TestMissingAPIKey(t *testing.T) {
	clearSecretsEnv(t)

	_, err := loadWith(newMapStore(), &mockKeychain{err: errors.New("no keychain")})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "FIELDHAND_GEMINI_API_KEY") {
		t.Errorf("error %q should name the env var", err)
	}
	if !strings.Contains(err.Error(), "gemini_api_key") {
		t.Errorf("error %q should name the secret store account", err)
	}
}

func TestProviderKeyFromKeychain(t *testing.T) {
	tests := []struct {
		provider string
		account  string
	}{
		{ProviderGemini, "gemini_api_key"},
		{ProviderOpenAI, "openai_api_key"},
		{ProviderAnthropic, "anthropic_api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			clearSecretsEnv(t)
			t.Setenv("FIELDHAND_LLM_PROVIDER", tt.provider)
			kc := &mockKeychain{values: map[string]string{"fieldhand/" + tt.account: "kc-" + tt.provider}}

			cfg, err := loadWith(newMapStore(), kc)
			if err != nil {
				t.Fatalf("loadWith: %v", err)
			}
			if got := cfg.LLM.APIKey(); got != "kc-"+tt.provider {
				t.Errorf("APIKey() = %q, want kc-%s", got, tt.provider)
			}
		})
	}
}

func TestOllamaNeedsNoKey(t *testing.T) {
	clearSecretsEnv(t)
	t.Setenv("FIELDHAND_LLM_PROVIDER", "ollama")

	cfg, err := loadWith(newMapStore(), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey() != "" {
		t.Errorf("APIKey() = %q, want empty for ollama", cfg.LLM.APIKey())
	}
}

func TestUnknownProvider(t *testing.T) {
	clearSecretsEnv(t)
	t.Setenv("FIELDHAND_LLM_PROVIDER", "mystery")

	if _, err := loadWith(newMapStore(), &mockKeychain{}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestPostgresRequiresDSN(t *testing.T) {
	clearSecretsEnv(t)
	t.Setenv("FIELDHAND_GEMINI_API_KEY", "k")
	t.Setenv("FIELDHAND_STORAGE_DRIVER", "postgres")

	if _, err := loadWith(newMapStore(), &mockKeychain{}); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}

	t.Setenv("FIELDHAND_POSTGRES_DSN", "postgres://localhost/farm")
	cfg, err := loadWith(newMapStore(), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.PostgresDSN != "postgres://localhost/farm" {
		t.Errorf("PostgresDSN = %q", cfg.Storage.PostgresDSN)
	}
}

func TestSetKey(t *testing.T) {
	b := newMapStore()

	if err := setKeyWith(b, "server.port", "8080"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if b.ints["server.port"] != 8080 {
		t.Errorf("server.port = %d, want 8080", b.ints["server.port"])
	}

	if err := setKeyWith(b, "assistant.enhance_enabled", "FALSE"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if b.strs["assistant.enhance_enabled"] != "false" {
		t.Errorf("enhance_enabled = %q, want false", b.strs["assistant.enhance_enabled"])
	}

	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, "llm.gemini_api_key", "x"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.GeminiAPIKey = "super-secret"

	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Key, "api_key") || strings.Contains(k.Key, "dsn") {
			t.Errorf("ShowAll exposed secret key %s", k.Key)
		}
		if k.Value == "super-secret" {
			t.Errorf("ShowAll exposed secret value under %s", k.Key)
		}
	}
	for _, k := range ValidKeys() {
		if k == "llm.gemini_api_key" {
			t.Error("ValidKeys lists a secret key")
		}
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		raw    string
		want   time.Duration
		wantOK bool
	}{
		{"", 5 * time.Second, true},
		{"250ms", 250 * time.Millisecond, true},
		{"garbage", 5 * time.Second, false},
		{"-1s", 5 * time.Second, false},
	}
	for _, tt := range tests {
		got, ok := Duration(tt.raw, 5*time.Second)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Duration(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestGetAPIToken_GeneratesOnce(t *testing.T) {
	t.Setenv("FIELDHAND_API_TOKEN", "")
	kc := &mockKeychain{}

	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(first))
	}

	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Error("token regenerated on second call")
	}
}

func TestGetAPIToken_EnvWins(t *testing.T) {
	t.Setenv("FIELDHAND_API_TOKEN", "from-env")
	kc := &mockKeychain{values: map[string]string{"fieldhand/api_token": "stored"}}

	tok, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if tok != "from-env" {
		t.Errorf("token = %q, want from-env", tok)
	}
}
