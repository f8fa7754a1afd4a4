package logger

import (
	"log/slog"
	"strings"
)

// SanitizedEmail masks an address for logging: "capitan@club.com.ar" becomes
// "c******@****.***.ar". Values without an @ are returned unchanged so other
// identities (ip:..., user:...) stay readable.
func SanitizedEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}

	local, domain := email[:at], email[at+1:]
	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return local + "@" + strings.Join(labels, ".")
}

// RedactedAttr hides value in production.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveParams = []string{"password", "token", "code", "secret", "email", "auth"}

// SanitizeQueryString reports whether rawQuery mentions a sensitive parameter
// and should be left out of request logs.
func SanitizeQueryString(rawQuery string) bool {
	q := strings.ToLower(rawQuery)
	for _, p := range sensitiveParams {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}
