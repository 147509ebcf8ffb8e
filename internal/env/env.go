// Package env reads UNRAVEL_* environment variables, honouring the legacy
// UNRAVEL_OUTPUT_DIR style names with a one-time deprecation warning.
package env

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Prefix is prepended to every variable the tools read.
const Prefix = "UNRAVEL_"

var (
	warnFn     = func(oldKey, newKey string) { slog.Warn("environment variable is deprecated", "old", oldKey, "new", newKey) }
	warnMu     sync.Mutex
	warnedKeys sync.Map
)

// Lookup returns the value of newKey if it is set. When only the legacy
// oldKey is present its value is returned and a warning is logged once.
func Lookup(newKey, oldKey string) (string, bool) {
	if v, ok := os.LookupEnv(newKey); ok {
		return v, true
	}
	if oldKey == "" {
		return "", false
	}
	if v, ok := os.LookupEnv(oldKey); ok {
		warnDeprecated(oldKey, newKey)
		return v, true
	}
	return "", false
}

// String returns the trimmed value of UNRAVEL_<name>.
func String(name string) (string, bool) {
	v, ok := os.LookupEnv(Prefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Int parses UNRAVEL_<name> as an integer. Unset variables report ok=false.
func Int(name string) (int, bool, error) {
	raw, ok := String(name)
	if !ok || raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", Prefix, name, err)
	}
	return n, true, nil
}

// Bool parses UNRAVEL_<name> with strconv.ParseBool.
func Bool(name string) (bool, bool, error) {
	raw, ok := String(name)
	if !ok || raw == "" {
		return false, false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s%s: %w", Prefix, name, err)
	}
	return b, true, nil
}

// List splits UNRAVEL_<name> on commas and drops empty entries.
func List(name string) ([]string, bool) {
	raw, ok := String(name)
	if !ok {
		return nil, false
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, true
}

func warnDeprecated(oldKey, newKey string) {
	onceIface, _ := warnedKeys.LoadOrStore(oldKey, &sync.Once{})
	once := onceIface.(*sync.Once)
	once.Do(func() {
		warnMu.Lock()
		fn := warnFn
		warnMu.Unlock()
		fn(oldKey, newKey)
	})
}

// ResetWarningsForTesting clears the once guards so warnings fire again.
func ResetWarningsForTesting() {
	warnMu.Lock()
	warnedKeys = sync.Map{}
	warnMu.Unlock()
}

// SetWarnFuncForTesting swaps the deprecation reporter. The returned
// function restores the previous one.
func SetWarnFuncForTesting(fn func(oldKey, newKey string)) (restore func()) {
	warnMu.Lock()
	previous := warnFn
	warnFn = fn
	warnMu.Unlock()
	return func() {
		warnMu.Lock()
		warnFn = previous
		warnMu.Unlock()
	}
}
