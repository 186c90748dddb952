package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	contactRe = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	codeRe    = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{1,30}[A-Z0-9]$`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// PickupCode normalizes a code typed or scanned at the kiosk: surrounding
// and inner whitespace is dropped and letters are upper-cased. Hyphens are
// kept, since hand-issued codes such as PKG-001 use them.
func PickupCode(raw string) (string, error) {
	code := strings.ToUpper(spaceRe.ReplaceAllString(strings.TrimSpace(raw), ""))
	if !codeRe.MatchString(code) {
		return "", fmt.Errorf("malformed pickup code: %q", raw)
	}
	return code, nil
}

// Contact validates an assignee e-mail address and lower-cases it so that
// push subscriptions and reservations match regardless of case.
func Contact(raw string) (string, error) {
	contact := strings.ToLower(strings.TrimSpace(raw))
	if !contactRe.MatchString(contact) {
		return "", fmt.Errorf("invalid contact address: %q", raw)
	}
	return contact, nil
}
