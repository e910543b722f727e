package gateway

import "strings"

// DefaultCountryCode is prefixed to domestic numbers lacking one.
const DefaultCountryCode = "55"

// NormalizePhone turns a user-typed phone number into the digits-only,
// country-prefixed form the gateway expects.
//
//	12-13 digits starting with 55      -> unchanged
//	11 digits, third digit 9 (DDD+cell) -> 55 + digits
//	10 digits (DDD+landline)            -> 55 + digits
//	9 digits starting with 9 (cell)     -> 55 + defaultArea + digits
//
// Anything else is passed through: a send is never blocked on formatting.
func NormalizePhone(raw, defaultArea string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return raw
	}

	switch n := len(digits); {
	case (n == 12 || n == 13) && strings.HasPrefix(digits, DefaultCountryCode):
		return digits
	case n == 11 && digits[2] == '9':
		return DefaultCountryCode + digits
	case n == 10:
		return DefaultCountryCode + digits
	case n == 9 && digits[0] == '9' && len(defaultArea) == 2:
		return DefaultCountryCode + defaultArea + digits
	}
	return digits
}
