package logging

import (
	"net/url"
	"regexp"
)

const (
	// MaxMessageLogLength is the maximum length of chat text written to logs.
	MaxMessageLogLength = 80
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match potential passwords in connection strings
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match JWT tokens (three base64 segments separated by dots)
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Pattern to match signed-URL query parameters issued by object storage
	signaturePattern = regexp.MustCompile(`(?i)(X-Amz-Signature|X-Amz-Credential|X-Goog-Signature|X-Goog-Credential|sig|signature|token)=[^&\s"]+`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@/\s]+@`)
)

// SanitizeURL strips credentials and query-string signatures from a URL so
// uploaded-file links can be logged. Returns the input unchanged if it does
// not parse.
func SanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return signaturePattern.ReplaceAllString(raw, "${1}="+RedactedText)
	}
	hadUser := u.User != nil
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = signaturePattern.ReplaceAllString(u.RawQuery, "${1}="+RedactedText)
	}
	s := u.String()
	if hadUser && u.Scheme != "" {
		prefix := u.Scheme + "://"
		s = prefix + RedactedText + "@" + s[len(prefix):]
	}
	return s
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Use this before logging any error from backend or storage calls.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	sanitized := passwordPattern.ReplaceAllString(errStr, "${1}="+RedactedText)
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = signaturePattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")

	return sanitized
}

// SanitizeMessage truncates student chat text for logging.
func SanitizeMessage(msg string) string {
	return TruncateString(msg, MaxMessageLogLength)
}

// TruncateString truncates a string to maxLen runes and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
