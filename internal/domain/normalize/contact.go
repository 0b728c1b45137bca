package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	emailPattern    = regexp.MustCompile(`^[^@\s<>]+@[^@\s<>]+\.[A-Za-z]{2,}$`)
	emailSeparators = regexp.MustCompile(`[;,\s]+`)
)

// Sanitize applies NFC composition, replaces non-breaking spaces with plain
// spaces and trims surrounding whitespace.
func Sanitize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}

// Email returns the first token that looks like local@domain.tld. Tokens are
// split on ';', ',' and whitespace; angle brackets and quotes around a token
// are stripped.
func Email(raw string) (string, bool) {
	raw = Sanitize(raw)
	if raw == "" {
		return "", false
	}
	for _, token := range emailSeparators.Split(raw, -1) {
		token = strings.Trim(token, `<>"'`)
		if token != "" && emailPattern.MatchString(token) {
			return token, true
		}
	}
	return "", false
}

// Phone keeps digits only, preserving a leading '+'. Fewer than 6 digits is
// treated as unusable.
func Phone(raw string) (string, bool) {
	raw = Sanitize(raw)
	digits := digitsOnly(raw)
	if len(digits) < 6 {
		return "", false
	}
	if strings.HasPrefix(raw, "+") {
		return "+" + digits, true
	}
	return digits, true
}

// TaxID keeps digits only and accepts the two legal lengths, 10 and 12.
func TaxID(raw string) (string, bool) {
	digits := digitsOnly(raw)
	if len(digits) != 10 && len(digits) != 12 {
		return "", false
	}
	return digits, true
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
