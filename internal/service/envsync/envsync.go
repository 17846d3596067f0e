// Package envsync points a frontend's configuration at its backend without
// clobbering values the project already ships with.
package envsync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Configuration keys that must resolve to the backend address.
const (
	KeyAPIBase = "API_BASE_URL"
	KeyBackend = "BACKEND_URL"
)

const envFileName = ".env"

// Sync ensures frontendPath/.env maps both keys to http://localhost:<port>.
// Keys already present keep their original value; only missing keys are
// appended. Returns the keys actually written.
func Sync(frontendPath string, port int) ([]string, error) {
	envPath := filepath.Join(frontendPath, envFileName)
	address := fmt.Sprintf("http://localhost:%d", port)

	existing, err := readKeys(envPath)
	if err != nil {
		return nil, fmt.Errorf("envsync: read %s: %w", envFileName, err)
	}

	var missing []string
	for _, key := range []string{KeyAPIBase, KeyBackend} {
		if _, ok := existing[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	file, err := os.OpenFile(envPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("envsync: open %s: %w", envFileName, err)
	}
	defer file.Close()

	var builder strings.Builder
	if needsLeadingNewline(envPath, existing) {
		builder.WriteByte('\n')
	}
	for _, key := range missing {
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(address)
		builder.WriteByte('\n')
	}
	if _, err := file.WriteString(builder.String()); err != nil {
		return nil, fmt.Errorf("envsync: append keys: %w", err)
	}
	return missing, nil
}

// readKeys parses the env file into a key set. A missing file is an empty set.
func readKeys(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	keys := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return keys, nil
}

// needsLeadingNewline reports whether an existing file lacks a trailing
// newline, so appended keys don't glue onto the last line.
func needsLeadingNewline(path string, existing map[string]string) bool {
	if len(existing) == 0 {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return false
	}
	return data[len(data)-1] != '\n'
}
