package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigBackend is where non-secret settings persist between runs: macOS
// UserDefaults or a JSON file under XDG_CONFIG_HOME elsewhere.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

func parseStoredInt(key, raw string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, nil
}
