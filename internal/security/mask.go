// Package security masks broker credentials before they reach logs or output.
package security

import (
	"regexp"
	"strings"

	"fno-desk/internal/config"
)

// sensitivePatterns match a credential name followed by its value. The value
// is the second submatch.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(jkey|susertoken|api[_-]?key|api[_-]?secret|access[_-]?token|auth[_-]?token|bearer|password)(["']?\s*[=:]\s*["']?|\s+)([A-Za-z0-9_\-\.]{8,})`),
}

// MaskCredential masks a credential value, keeping at most four characters
// at each end.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSensitive masks credential values that appear as key=value,
// "key":"value" or "key value" inside free text such as a broker reply.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			m := pattern.FindStringSubmatch(match)
			return m[1] + m[2] + MaskCredential(m[3])
		})
	}
	return result
}

// RedactCredentials returns a copy of creds with every secret masked. User
// ids and URLs are left readable.
func RedactCredentials(creds config.Credentials) config.Credentials {
	out := creds
	out.Flattrade.Token = MaskCredential(creds.Flattrade.Token)
	out.Zerodha.APIKey = MaskCredential(creds.Zerodha.APIKey)
	out.Zerodha.AccessToken = MaskCredential(creds.Zerodha.AccessToken)
	return out
}
