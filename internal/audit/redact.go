package audit

import "strings"

// RedactedPlaceholder replaces every sensitive value in audit details.
const RedactedPlaceholder = "[REDACTED]"

// sensitiveKeywords: any key whose name contains one of these
// (case-insensitive) is masked.
var sensitiveKeywords = []string{
	"password",
	"token",
	"secret",
	"key",
	"credential",
	"auth",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactSensitive returns a copy of the map with sensitive values masked,
// recursing into nested maps. The input is never mutated: audit entries
// must not alias caller-owned params.
func RedactSensitive(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		if isSensitiveKey(key) {
			out[key] = RedactedPlaceholder
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return RedactSensitive(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}
