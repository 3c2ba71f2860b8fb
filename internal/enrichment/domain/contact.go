package domain

import (
	"strings"
	"unicode"
)

// Placeholder digit runs that show up in emails typed to get past a form.
var fakeEmailPatterns = []string{"999999", "111111", "000000", "123456789"}

// NormalizePhone strips formatting and applies defaultPrefix (e.g. "+55")
// when the number carries no country code. Returns "" for numbers too short
// to be dialable.
func NormalizePhone(raw, defaultPrefix string) string {
	var b strings.Builder
	for i, r := range raw {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	phone := b.String()
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 8 {
		return ""
	}
	if !strings.HasPrefix(phone, "+") {
		phone = defaultPrefix + phone
	}
	return phone
}

// NormalizeEmail lowercases and trims the address, and rejects obviously
// fabricated ones so they never reach the providers.
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") {
		return ""
	}
	local := email[:at]
	for _, pattern := range fakeEmailPatterns {
		if strings.Contains(local, pattern) {
			return ""
		}
	}
	return email
}
