//go:build !darwin

package config

import (
	"errors"
	"path/filepath"
)

// Without a system keychain, secrets live in a 0600 JSON file keyed by
// "<service>/<account>".
func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "vignette", "secrets.json")
}

var errSecretNotFound = errors.New("secret not found")

func keychainGet(service, account string) ([]byte, error) {
	f, err := openJSONFile(secretsFilePath())
	if err != nil {
		return nil, err
	}
	v, ok := f.data[service+"/"+account].(string)
	if !ok {
		return nil, errSecretNotFound
	}
	return []byte(v), nil
}

func keychainSet(service, account, value string) error {
	f, err := openJSONFile(secretsFilePath())
	if err != nil {
		return err
	}
	f.data[service+"/"+account] = value
	return f.save()
}

func keychainDelete(service, account string) error {
	f, err := openJSONFile(secretsFilePath())
	if err != nil {
		return err
	}
	delete(f.data, service+"/"+account)
	return f.save()
}
