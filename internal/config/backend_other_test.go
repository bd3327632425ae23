//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldhand", "config.json")

	s := newFileStore(path)
	if err := s.SetString("llm.model", "gemini-2.5-pro"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := s.SetInt("server.port", 4200); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	reloaded := newFileStore(path)
	if v, ok, _ := reloaded.GetString("llm.model"); !ok || v != "gemini-2.5-pro" {
		t.Errorf("llm.model = %q (ok=%v)", v, ok)
	}
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 4200 {
		t.Errorf("server.port = %d (ok=%v, err=%v)", v, ok, err)
	}

	if err := reloaded.Delete("llm.model"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newFileStore(path).GetString("llm.model"); ok {
		t.Error("llm.model still present after Delete")
	}
	if err := reloaded.Delete("never.set"); err != nil {
		t.Errorf("Delete of a missing key: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("settings file mode = %04o, want 0600", perm)
	}
}

func TestFileStoreGetInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"server.port": 4300, "sqlgen.max_rows": "250", "cache.ttl": 1.5, "log.level": true}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	s := newFileStore(path)

	tests := []struct {
		key     string
		want    int
		wantErr bool
	}{
		{"server.port", 4300, false},
		{"sqlgen.max_rows", 250, false},
		{"cache.ttl", 0, true},
		{"log.level", 0, true},
	}
	for _, tt := range tests {
		got, ok, err := s.GetInt(tt.key)
		if !ok {
			t.Errorf("%s: ok = false", tt.key)
		}
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if err != nil && !strings.Contains(err.Error(), path) {
			t.Errorf("%s: error %q should name the settings file", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("%s = %d, want %d", tt.key, got, tt.want)
		}
	}
}

func TestFileStoreIgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := newFileStore(path)
	if _, ok, _ := s.GetString("llm.model"); ok {
		t.Error("corrupt file should load as empty")
	}
	if err := s.SetString("llm.model", "m"); err != nil {
		t.Fatalf("SetString over corrupt file: %v", err)
	}
	if v, _, _ := newFileStore(path).GetString("llm.model"); v != "m" {
		t.Errorf("llm.model = %q after rewrite, want m", v)
	}
}

func TestStoreLocationFollowsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "fieldhand", "config.json")
	if got := StoreLocation(); got != want {
		t.Errorf("StoreLocation() = %q, want %q", got, want)
	}
}

func TestSecretsFileRoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	kc := NewKeychain()
	if err := kc.Set("fieldhand", "gemini_api_key", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kc.Set("fieldhand", "openai_api_key", "def"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := kc.Get("fieldhand", "gemini_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "abc" {
		t.Errorf("Get = %q, want abc", got)
	}

	_, err = kc.Get("fieldhand", "anthropic_api_key")
	if err == nil || !strings.Contains(err.Error(), "anthropic_api_key") {
		t.Errorf("missing account error = %v, want it to name the account", err)
	}
}

func TestSecretsFileRejectsSharedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"fieldhand":{"gemini_api_key":"abc"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	// WriteFile is subject to umask; force the mode under test.
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := secretsFile{path: path}.get("fieldhand", "gemini_api_key")
	if err == nil || !strings.Contains(err.Error(), "chmod 600") {
		t.Fatalf("get = %v, want a chmod hint", err)
	}
}

func TestAPIKeyHintNamesAccount(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	hint := apiKeyHint(ProviderOpenAI)
	if !strings.Contains(hint, `"openai_api_key"`) || !strings.Contains(hint, "secrets.json") {
		t.Errorf("apiKeyHint = %q", hint)
	}
}
