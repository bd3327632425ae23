package config

import "fmt"

// appDirName names the per-user directories fieldhand keeps settings, secrets
// and the SQLite database under.
const appDirName = "fieldhand"

// Store persists the settings written by `fieldhand config set`. The macOS
// store is the com.kalambet.fieldhand UserDefaults domain; elsewhere it is a
// JSON file under $XDG_CONFIG_HOME/fieldhand.
type Store interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
	// Location describes where settings live, for `config show` and errors.
	Location() string
}

// StoreLocation reports where this platform keeps fieldhand settings.
func StoreLocation() string {
	return newPlatformStore().Location()
}

// storeError wraps a store failure with the key and the store's location so a
// failed `config set` says which file or domain could not be written.
func storeError(s Store, op, key string, err error) error {
	return fmt.Errorf("%s %s in %s: %w", op, key, s.Location(), err)
}
