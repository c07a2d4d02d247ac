//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	b := newPlatformBackend()
	if err := b.SetString("prompt.style", "crayon"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetInt("server.port", 4200); err != nil {
		t.Fatal(err)
	}

	// A fresh backend reads what the first one wrote.
	b = newPlatformBackend()
	if v, ok, err := b.GetString("prompt.style"); err != nil || !ok || v != "crayon" {
		t.Errorf("prompt.style = %q, %v, %v", v, ok, err)
	}
	if v, ok, err := b.GetInt("server.port"); err != nil || !ok || v != 4200 {
		t.Errorf("server.port = %d, %v, %v", v, ok, err)
	}

	if err := b.Delete("server.port"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := newPlatformBackend().GetInt("server.port"); ok {
		t.Error("server.port still set after Delete")
	}

	info, err := os.Stat(configFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestFileBackend_BadInt(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "vignette", "config.json")
	os.MkdirAll(filepath.Dir(path), 0o700)
	if err := os.WriteFile(path, []byte(`{"server.port": 12.5, "imagegen.size": "abc"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	b := newPlatformBackend()
	if _, _, err := b.GetInt("server.port"); err == nil {
		t.Error("expected error for fractional port")
	}
	if _, _, err := b.GetInt("imagegen.size"); err == nil {
		t.Error("expected error for non-numeric size")
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainGet(secretService, "auth_token"); err == nil {
		t.Fatal("expected error before any secret is stored")
	}
	if err := keychainSet(secretService, "auth_token", "tok-1"); err != nil {
		t.Fatal(err)
	}

	v, err := keychainReader{}.Get(secretService, "auth_token")
	if err != nil || v != "tok-1" {
		t.Errorf("Get = %q, %v", v, err)
	}

	if err := keychainDelete(secretService, "auth_token"); err != nil {
		t.Fatal(err)
	}
	if _, err := keychainGet(secretService, "auth_token"); err == nil {
		t.Error("secret still present after delete")
	}
}
