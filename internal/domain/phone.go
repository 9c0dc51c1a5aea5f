package domain

import "strings"

const countryCode = "254"

// NormalizePhone converts a phone number to canonical international numeric
// form: no leading +, local-format leading 0 replaced with the Kenyan country
// code, bare national numbers prefixed with it.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, countryCode) {
		return p
	}
	if strings.HasPrefix(p, "0") {
		return countryCode + p[1:]
	}
	return countryCode + p
}
