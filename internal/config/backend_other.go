//go:build !darwin

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// xdgDir resolves an XDG base directory, falling back to ~/<fallback>.
func xdgDir(env, fallback string) (string, bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, fallback), true
}

func defaultDataDir() string {
	dir, ok := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if !ok {
		return appDirName + "-data"
	}
	return filepath.Join(dir, appDirName)
}

func configFilePath() string {
	dir, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, appDirName, "config.json")
}

func apiKeyHint(provider string) string {
	return fmt.Sprintf(" or add %q under %q in %s", apiKeyAccount(provider), keychainService, secretsFilePath())
}

// writeFileAtomic replaces path with data via a sibling temp file so a crash
// mid-write never leaves a truncated settings or secrets file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// fileStore keeps settings as a flat JSON object keyed by setting name.
type fileStore struct {
	path string
	data map[string]any
}

func newPlatformStore() Store {
	return newFileStore(configFilePath())
}

// newFileStore opens the settings file at path. A missing file is an empty
// store; an unreadable one is logged and treated as empty so defaults apply.
func newFileStore(path string) *fileStore {
	s := &fileStore{path: path, data: make(map[string]any)}
	if err := s.load(); err != nil {
		slog.Warn("ignoring settings file", "path", path, "error", err)
	}
	return s
}

func (s *fileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	data := make(map[string]any)
	if err := dec.Decode(&data); err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	s.data = data
	return nil
}

func (s *fileStore) save(op, key string) error {
	out, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return storeError(s, op, key, err)
	}
	if err := writeFileAtomic(s.path, append(out, '\n')); err != nil {
		return storeError(s, op, key, err)
	}
	return nil
}

func (s *fileStore) Location() string { return s.path }

func (s *fileStore) GetString(key string) (string, bool, error) {
	v, ok := s.data[key]
	if !ok {
		return "", false, nil
	}
	if str, ok := v.(string); ok {
		return str, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (s *fileStore) GetInt(key string) (int, bool, error) {
	v, ok := s.data[key]
	if !ok {
		return 0, false, nil
	}
	var text string
	switch val := v.(type) {
	case int:
		return val, true, nil
	case json.Number:
		text = val.String()
	case string:
		text = val
	default:
		return 0, true, storeError(s, "parsing", key, fmt.Errorf("%T is not an integer", v))
	}
	i, err := strconv.Atoi(text)
	if err != nil {
		return 0, true, storeError(s, "parsing", key, err)
	}
	return i, true, nil
}

func (s *fileStore) SetString(key, val string) error {
	s.data[key] = val
	return s.save("writing", key)
}

func (s *fileStore) SetInt(key string, val int) error {
	s.data[key] = val
	return s.save("writing", key)
}

func (s *fileStore) Delete(key string) error {
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.save("deleting", key)
}
