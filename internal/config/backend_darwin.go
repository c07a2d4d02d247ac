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

const defaultsDomain = "com.storynest.vignette"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vignette-data"
	}
	return filepath.Join(home, "Library", "Application Support", "vignette")
}

func secretHint(key string) string {
	return fmt.Sprintf(", `vignette config set %s`, or macOS Keychain (service: %s, account: %s)", key, secretService, secretAccount(key))
}

// defaultsBackend shells out to `defaults` so values show up in the same
// domain a companion app would read.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		// Exit status 1 means the key is unset.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, s)
	}
	return s, true, nil
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := parseStoredInt(key, s)
	return i, true, err
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write("write", key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write("write", key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) Delete(key string) error {
	return b.write("delete", key)
}

func (b *defaultsBackend) write(verb, key string, args ...string) error {
	argv := append([]string{verb, b.domain, key}, args...)
	if out, err := exec.Command("defaults", argv...).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults %s %s: %w: %s", verb, key, err, strings.TrimSpace(string(out)))
	}
	return nil
}
