package entities

import "regexp"

var e164 = regexp.MustCompile(`^\+\d{7,15}$`)

// ValidPhoneNumber reports whether n is "+" followed by 7-15 digits.
func ValidPhoneNumber(n string) bool {
	return e164.MatchString(n)
}
