package log

import "strings"

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var sensitiveFragments = []string{
	"token",
	"jwt",
	"sig",
	"private",
	"secret",
	"passphrase",
	"password",
	"rpc_url",
}

// IsSensitive reports whether a log key names secret material.
func IsSensitive(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, f := range sensitiveFragments {
		if strings.Contains(k, f) {
			return true
		}
	}
	return false
}

// Redact returns the placeholder for non-empty values. Empty values are
// returned unchanged to avoid introducing noise in logs.
func Redact(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// SafeStr returns value, or the placeholder when key names secret material.
func SafeStr(key, value string) string {
	if IsSensitive(key) {
		return Redact(value)
	}
	return value
}
