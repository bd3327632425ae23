//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	dir, ok := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, appDirName, "secrets.json")
}

// secretTree maps service to account to secret, e.g.
// {"fieldhand": {"gemini_api_key": "..."}}.
type secretTree map[string]map[string]string

func (t secretTree) put(service, account, value string) {
	accounts, ok := t[service]
	if !ok {
		accounts = map[string]string{}
		t[service] = accounts
	}
	accounts[account] = value
}

// secretsFile is the keychain stand-in, readable only by its owner.
type secretsFile struct {
	path string
}

func (f secretsFile) read() (secretTree, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("secrets file %s has mode %04o; run chmod 600 on it", f.path, info.Mode().Perm())
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets secretTree
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", f.path, err)
	}
	return secrets, nil
}

func (f secretsFile) get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("no %s secret under %q in %s", account, service, f.path)
	}
	return val, nil
}

func (f secretsFile) set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if secrets == nil {
		secrets = secretTree{}
	}
	secrets.put(service, account, value)

	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.path, append(out, '\n')); err != nil {
		return fmt.Errorf("saving %s secret: %w", account, err)
	}
	return nil
}

func keychainGet(service, account string) ([]byte, error) {
	v, err := secretsFile{path: secretsFilePath()}.get(service, account)
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func keychainSet(service, account, value string) error {
	return secretsFile{path: secretsFilePath()}.set(service, account, value)
}
