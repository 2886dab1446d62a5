package sessguard

import (
	"regexp"
	"strings"
)

// Metadata keys whose values are always masked.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"credential",
	"cookie",
	"session",
	"jwt",
	"apikey",
}

// Three dot-separated base64url segments, the shape of a signed token.
var tokenShape = regexp.MustCompile(`\b[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{4,}\b`)

const redactedPlaceholder = "[REDACTED]"

// redactValue masks token-shaped substrings inside a free-form value.
func redactValue(value string) string {
	return tokenShape.ReplaceAllString(value, redactedPlaceholder)
}

func isSensitiveKey(key string) bool {
	// Separators vary across callers ("api_key", "X-Api-Key"), so the
	// match runs against a separator-free form of the key.
	lower := strings.ToLower(key)
	norm := strings.NewReplacer("-", "", "_", "").Replace(lower)
	for _, s := range sensitiveKeys {
		if strings.Contains(norm, s) {
			return true
		}
	}
	return false
}

// redactMetadata returns a copy of metadata with sensitive keys masked
// outright and token-shaped values scrubbed everywhere else. A nil map
// stays nil.
func redactMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}

	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if isSensitiveKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}
