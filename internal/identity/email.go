package identity

import (
	"net/mail"
	"strings"
)

func NormEmail(s string) (string, bool) {
	e := strings.TrimSpace(strings.ToLower(s))
	if e == "" {
		return "", true // treat empty as ok/optional
	}
	addr, err := mail.ParseAddress(e)
	if err != nil {
		return e, false
	}
	// "Name <a@b>" forms are not accepted as a bare address
	return e, addr.Address == e
}
