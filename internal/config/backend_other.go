//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// xdgDir resolves an XDG base directory, falling back to $HOME/<rel> and
// finally to the working directory.
func xdgDir(env, rel string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, rel)
	}
	return "."
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "vignette")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "vignette", "config.json")
}

func secretHint(key string) string {
	return fmt.Sprintf(" or `vignette config set %s` (stored in %s)", key, secretsFilePath())
}

// jsonFile is a flat JSON object on disk. A missing file reads as empty.
type jsonFile struct {
	path string
	data map[string]any
}

func openJSONFile(path string) (*jsonFile, error) {
	f := &jsonFile{path: path, data: make(map[string]any)}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		return f, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

func (f *jsonFile) save() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(f.path), err)
	}
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0o600)
}

// fileBackend keeps settings in $XDG_CONFIG_HOME/vignette/config.json.
type fileBackend struct {
	file *jsonFile
}

func newPlatformBackend() ConfigBackend {
	f, err := openJSONFile(configFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] %v. Using default values.\n", err)
	}
	return &fileBackend{file: f}
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.file.data[key]
	if !ok {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprintf("%v", v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.file.data[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) || val < math.MinInt || val > math.MaxInt {
			return 0, true, fmt.Errorf("value %v for %s is not an integer", val, key)
		}
		return int(val), true, nil
	case string:
		i, err := parseStoredInt(key, val)
		return i, true, err
	default:
		return 0, true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	b.file.data[key] = val
	return b.file.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.file.data[key] = val
	return b.file.save()
}

func (b *fileBackend) Delete(key string) error {
	delete(b.file.data, key)
	return b.file.save()
}
