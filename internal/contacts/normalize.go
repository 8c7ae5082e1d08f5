package contacts

import "strings"

// NormalizePhone converts raw input to E.164.
//
//   - non-digits are stripped first
//   - 10 digits: US national number, prefixed +1
//   - 11 digits starting with 1: prefixed +
//   - input that started with + passes through as +digits
//
// Anything else is rejected.
func NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10:
		return "+1" + digits, true
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, true
	case strings.HasPrefix(raw, "+") && digits != "":
		return "+" + digits, true
	default:
		return "", false
	}
}
