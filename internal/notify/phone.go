package notify

import "strings"

// DefaultCountryCode is prepended to national numbers.
const DefaultCountryCode = "254"

// ToInternational normalizes phone to +<country><number>.
func ToInternational(phone, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	p := b.String()
	if strings.HasPrefix(p, "+") && len(p) >= 10 {
		return p
	}
	p = strings.TrimLeft(p, "+")
	if strings.HasPrefix(p, "0") {
		p = countryCode + p[1:]
	}
	if !strings.HasPrefix(p, countryCode) {
		p = countryCode + p
	}
	return "+" + p
}

// MaskPhone hides the middle of a number for logs.
func MaskPhone(phone string) string {
	p := ToInternational(phone, "")
	if len(p) < 8 {
		return "****" + p[max(0, len(p)-2):]
	}
	return p[:4] + "****" + p[len(p)-3:]
}

// ValidPhone reports whether phone normalizes to 10 to 15 digits.
func ValidPhone(phone string) bool {
	n := 0
	for _, r := range ToInternational(phone, "") {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n >= 10 && n <= 15
}
