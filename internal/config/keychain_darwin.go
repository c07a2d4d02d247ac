//go:build darwin

package config

import (
	"fmt"
	"os/exec"
	"strings"
)

func keychainGet(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
}

// keychainSet adds or updates (-U) a generic password item.
func keychainSet(service, account, value string) error {
	return runSecurity("add-generic-password", "-U", "-s", service, "-a", account, "-w", value)
}

func keychainDelete(service, account string) error {
	return runSecurity("delete-generic-password", "-s", service, "-a", account)
}

func runSecurity(args ...string) error {
	out, err := exec.Command("security", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("security %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
