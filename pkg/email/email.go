// Package email validates addresses and derives usernames from them.
package email

import (
	"regexp"
	"strings"
)

var pattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// fallbackUsername is used when the local part has no usable characters.
const fallbackUsername = "user"

// IsValid reports whether addr has the shape local@domain.tld.
func IsValid(addr string) bool {
	return pattern.MatchString(addr)
}

// Normalize trims surrounding whitespace. Case is preserved; addresses
// compare exactly.
func Normalize(addr string) string {
	return strings.TrimSpace(addr)
}

// LocalPart returns everything before the last '@'.
func LocalPart(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at >= 0 {
		return addr[:at]
	}
	return addr
}

// UsernameBase derives a username from the email local part: characters
// outside [A-Za-z0-9._-] are dropped and the result is capped at maxLen.
func UsernameBase(addr string, maxLen int) string {
	var b strings.Builder
	for _, r := range LocalPart(addr) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	base := b.String()
	if base == "" {
		base = fallbackUsername
	}
	if maxLen > 0 && len(base) > maxLen {
		base = base[:maxLen]
	}
	return base
}
