package model

import (
	"errors"
	"strings"
	"unicode"
)

var (
	ErrNameRequired  = errors.New("name is required")
	ErrEmailRequired = errors.New("email is required")
	ErrEmailInvalid  = errors.New("email is invalid")
	ErrDelimiter     = errors.New("name and email must not contain '|'")
	ErrControlChar   = errors.New("name and email must not contain control characters")
)

// Contact is the trimmed name/email pair a reservation is made under.
type Contact struct {
	Name  string
	Email string
}

// NormalizeContact trims the inputs and checks them. The email check matches
// what the front desk has always accepted: an '@' followed by a dotted domain.
func NormalizeContact(name, email string) (Contact, error) {
	c := Contact{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email)}
	if c.Name == "" {
		return c, ErrNameRequired
	}
	if c.Email == "" {
		return c, ErrEmailRequired
	}
	if strings.ContainsRune(c.Name, '|') || strings.ContainsRune(c.Email, '|') {
		return c, ErrDelimiter
	}
	if strings.IndexFunc(c.Name, unicode.IsControl) >= 0 || strings.IndexFunc(c.Email, unicode.IsControl) >= 0 {
		return c, ErrControlChar
	}
	at := strings.LastIndexByte(c.Email, '@')
	if at <= 0 || strings.ContainsAny(c.Email, " \t") {
		return c, ErrEmailInvalid
	}
	domain := c.Email[at+1:]
	dot := strings.IndexByte(domain, '.')
	if dot <= 0 || dot == len(domain)-1 {
		return c, ErrEmailInvalid
	}
	return c, nil
}
