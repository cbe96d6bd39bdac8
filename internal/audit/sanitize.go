package audit

import "strings"

// Redacted replaces the value of a sensitive parameter.
const Redacted = "[REDACTED]"

var sensitiveKeys = []string{"password", "token", "secret", "key", "authorization", "cookie"}

// IsSensitiveKey reports whether a parameter name must never be stored.
func IsSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of params with sensitive values redacted at any
// depth. Nested maps and slices are copied; params is not modified.
func Sanitize(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Sanitize(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = sanitizeValue(e)
		}
		return cp
	case map[string]string:
		cp := make(map[string]any, len(t))
		for k, s := range t {
			if IsSensitiveKey(k) {
				cp[k] = Redacted
			} else {
				cp[k] = s
			}
		}
		return cp
	case map[string][]string:
		cp := make(map[string]any, len(t))
		for k, s := range t {
			if IsSensitiveKey(k) {
				cp[k] = Redacted
				continue
			}
			if len(s) == 1 {
				cp[k] = s[0]
			} else {
				cp[k] = append([]string(nil), s...)
			}
		}
		return cp
	default:
		return v
	}
}
