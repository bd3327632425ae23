//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.kalambet.fieldhand"

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", appDirName)
	}
	return appDirName + "-data"
}

func apiKeyHint(provider string) string {
	return fmt.Sprintf(" or store it with: security add-generic-password -s %s -a %s -w <key>",
		keychainService, apiKeyAccount(provider))
}

// errNoDefault is returned by a runner when `defaults read` finds no value.
var errNoDefault = errors.New("no such default")

// defaultsStore keeps settings in a UserDefaults domain via the `defaults` CLI.
type defaultsStore struct {
	domain string
	run    func(args ...string) (string, error)
}

func newPlatformStore() Store {
	return &defaultsStore{domain: defaultsDomain, run: runDefaults}
}

func runDefaults(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && (args[0] == "read" || args[0] == "delete") {
			return "", errNoDefault
		}
		if s != "" {
			return "", fmt.Errorf("%w: %s", err, s)
		}
		return "", err
	}
	return s, nil
}

func (s *defaultsStore) Location() string {
	return "UserDefaults domain " + s.domain
}

func (s *defaultsStore) GetString(key string) (string, bool, error) {
	v, err := s.run("read", s.domain, key)
	if errors.Is(err, errNoDefault) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeError(s, "reading", key, err)
	}
	return v, true, nil
}

func (s *defaultsStore) GetInt(key string) (int, bool, error) {
	v, ok, err := s.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, storeError(s, "parsing", key, err)
	}
	return i, true, nil
}

func (s *defaultsStore) SetString(key, val string) error {
	if _, err := s.run("write", s.domain, key, "-string", val); err != nil {
		return storeError(s, "writing", key, err)
	}
	return nil
}

func (s *defaultsStore) SetInt(key string, val int) error {
	if _, err := s.run("write", s.domain, key, "-int", strconv.Itoa(val)); err != nil {
		return storeError(s, "writing", key, err)
	}
	return nil
}

func (s *defaultsStore) Delete(key string) error {
	_, err := s.run("delete", s.domain, key)
	if err != nil && !errors.Is(err, errNoDefault) {
		return storeError(s, "deleting", key, err)
	}
	return nil
}
