// Package device turns a User-Agent header into a short label for audit events.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// Label returns "<browser> on <os>", with " (mobile)" or " (bot)" appended
// when the agent says so.
func Label(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return unknownDevice
	}
	ua := useragent.New(userAgent)

	browser, _ := ua.Browser()
	os := ua.OS()
	if os == "" {
		os = ua.Platform()
	}

	var b strings.Builder
	b.WriteString(valueOr(browser, "Unknown Browser"))
	b.WriteString(" on ")
	b.WriteString(valueOr(os, "Unknown OS"))
	switch {
	case ua.Bot():
		b.WriteString(" (bot)")
	case ua.Mobile():
		b.WriteString(" (mobile)")
	}

	const maxLen = 128
	label := strings.TrimSpace(b.String())
	if len(label) > maxLen {
		label = label[:maxLen]
	}
	return label
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}
