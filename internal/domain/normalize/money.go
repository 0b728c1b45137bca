package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a parsed monetary amount. Amount is nil when Raw could not be
// parsed; Raw keeps the sanitized input as a fallback.
type Money struct {
	Amount *decimal.Decimal
	Raw    string
}

// ParseMoney parses strings such as "-1 582,00": spaces and non-breaking
// spaces are thousands separators and a comma is the decimal separator.
// Empty input is absent (ok=false).
func ParseMoney(raw string) (Money, bool) {
	raw = Sanitize(raw)
	if raw == "" {
		return Money{}, false
	}
	cleaned := strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(raw)
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Money{Raw: raw}, true
	}
	return Money{Amount: &amount, Raw: raw}, true
}

// Float returns the amount as float64, or false when it was not parsed.
func (m Money) Float() (float64, bool) {
	if m.Amount == nil {
		return 0, false
	}
	f, _ := m.Amount.Float64()
	return f, true
}

// Field returns the value for a CRM field tolerant of numeric or text form:
// the parsed number when available, else the raw string.
func (m Money) Field() any {
	if f, ok := m.Float(); ok {
		return f
	}
	return m.Raw
}
