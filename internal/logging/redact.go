package logging

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	reBearer = regexp.MustCompile(`(?i)\b(bearer)\s+([A-Za-z0-9_\-\.=]{12,})`)
	reAIza   = regexp.MustCompile(`\b(AIza[A-Za-z0-9_\-]{16,})\b`)
	reYa29   = regexp.MustCompile(`\b(ya29\.[A-Za-z0-9_\-\.]{12,})\b`)
)

// RedactText masks bearer tokens and Google API keys in free text.
func RedactText(s string) string {
	if s == "" {
		return s
	}
	s = reBearer.ReplaceAllString(s, "$1 [REDACTED]")
	s = reAIza.ReplaceAllString(s, "[REDACTED]")
	s = reYa29.ReplaceAllString(s, "[REDACTED]")
	return s
}

var sensitiveQueryKeys = map[string]struct{}{
	"key":          {},
	"api_key":      {},
	"apikey":       {},
	"access_token": {},
	"token":        {},
}

// MaskSensitiveQuery replaces credential-like query parameter values with "***".
func MaskSensitiveQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return RedactText(rawQuery)
	}
	masked := false
	for k := range values {
		if _, ok := sensitiveQueryKeys[strings.ToLower(k)]; ok {
			values.Set(k, "***")
			masked = true
		}
	}
	if !masked {
		return rawQuery
	}
	return values.Encode()
}
