package logutil

import (
	"strconv"
	"strings"
)

// SanitizeForLog strips newlines and control characters from values that
// originate from requests or command output, so a hostname or an ssh stderr
// line cannot forge extra log entries.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 127:
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FieldValue renders a sanitized field value, quoting it when it contains
// spaces or quotes so key=value pairs stay parseable.
func FieldValue(s string) string {
	s = SanitizeForLog(s)
	if s == "" || strings.ContainsAny(s, " \"=") {
		return strconv.Quote(s)
	}
	return s
}
