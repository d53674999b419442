// Package opts reads typed values out of module option maps as decoded from
// YAML or JSON.
package opts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/polisai/authchain/pkg/domain"
)

// String returns the string option key, or def when unset.
func String(options map[string]any, key, def string) (string, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", invalid(key, "string", raw)
	}
}

// Bool returns the boolean option key, or def when unset. Strings are parsed.
func Bool(options map[string]any, key string, def bool) (bool, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, invalid(key, "bool", raw)
		}
		return b, nil
	default:
		return false, invalid(key, "bool", raw)
	}
}

// Int returns the integer option key, or def when unset.
func Int(options map[string]any, key string, def int) (int, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, invalid(key, "integer", raw)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalid(key, "integer", raw)
		}
		return n, nil
	default:
		return 0, invalid(key, "integer", raw)
	}
}

// Duration returns the duration option key, or def when unset. Numbers are
// read as seconds, strings with time.ParseDuration.
func Duration(options map[string]any, key string, def time.Duration) (time.Duration, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, invalid(key, "duration", raw)
		}
		return d, nil
	default:
		return 0, invalid(key, "duration", raw)
	}
}

// Strings returns the string list option key. A single string is split on
// commas.
func Strings(options map[string]any, key string) ([]string, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, invalid(key, "string list", raw)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return nil, invalid(key, "string list", raw)
	}
}

// StringMap returns the string-to-string map option key.
func StringMap(options map[string]any, key string) (map[string]string, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, invalid(key, "string map", raw)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, invalid(key, "string map", raw)
	}
}

// Status returns the auth status option key, or def when unset.
func Status(options map[string]any, key string, def domain.AuthStatus) (domain.AuthStatus, error) {
	s, err := String(options, key, string(def))
	if err != nil {
		return "", err
	}
	status := domain.AuthStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case domain.Success, domain.SendSuccess, domain.SendFailure, domain.SendContinue, domain.Failure:
		return status, nil
	default:
		return "", fmt.Errorf("option %q: unknown status %q: %w", key, s, domain.ErrConfigInvalid)
	}
}

// Keys returns the option names in sorted order.
func Keys(options map[string]any) []string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func invalid(key, want string, got any) error {
	return fmt.Errorf("option %q: expected %s, got %T: %w", key, want, got, domain.ErrConfigInvalid)
}
