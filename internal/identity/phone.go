package identity

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// DefaultCountryCode is prefixed to local numbers that start with 0 until
// SetCountryCode says otherwise.
const DefaultCountryCode = "234"

var countryCode atomic.Value

func init() {
	countryCode.Store(DefaultCountryCode)
}

var (
	reLetters = regexp.MustCompile(`[A-Za-z]`)
	// Only allow digits, spaces, +, -, (, )
	reAllowed = regexp.MustCompile(`^[0-9+\-\s\(\)]+$`)
	// E.164-ish: + followed by 8..15 digits (no leading 0 after +)
	reE164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
	reCode = regexp.MustCompile(`^[1-9][0-9]{0,2}$`)
)

// SetCountryCode changes the prefix used for local numbers. It returns false
// and keeps the current prefix when cc is not a 1 to 3 digit calling code.
func SetCountryCode(cc string) bool {
	cc = strings.TrimPrefix(strings.TrimSpace(cc), "+")
	if !reCode.MatchString(cc) {
		return false
	}
	countryCode.Store(cc)
	return true
}

// CountryCode returns the prefix used for local numbers.
func CountryCode() string {
	return countryCode.Load().(string)
}

// NormPhone normalizes phone numbers to +E.164 form.
// Rules: strip spaces/dashes/parens; 00.. -> +..; <cc>.. -> +<cc>..; 0.. -> +<cc>..; ensure leading +.
// Returns "" when the input cannot be a phone number.
func NormPhone(p string) string {
	s := strings.TrimSpace(p)
	if s == "" || reLetters.MatchString(s) || !reAllowed.MatchString(s) {
		return ""
	}

	repl := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "\n", "", "\r", "")
	s = repl.Replace(s)

	cc := CountryCode()
	switch {
	case strings.HasPrefix(s, "00"):
		s = "+" + s[2:]
	case strings.HasPrefix(s, cc):
		s = "+" + s
	case strings.HasPrefix(s, "0"):
		s = "+" + cc + s[1:]
	}
	if !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return s
}

// ValidPhone reports whether s normalizes to a plausible E.164 number.
func ValidPhone(s string) bool {
	return reE164.MatchString(NormPhone(s))
}
