package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)
	codePattern  = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// Credentials описывает данные приложения и номер телефона, с которыми идёт авторизация.
type Credentials struct {
	APIID       int32  `json:"api_id" yaml:"api_id"`
	APIHash     string `json:"api_hash" yaml:"api_hash"`
	PhoneNumber string `json:"phone_number" yaml:"phone_number"`
}

// Validate checks that the application identifiers are present.
// The phone number is checked separately by ValidatePhone, since a
// request may carry a phone other than the stored one.
func (c Credentials) Validate() error {
	if c.APIID <= 0 {
		return E(KindInvalidInput, "credentials", fmt.Errorf("api_id must be positive, got %d", c.APIID))
	}
	if strings.TrimSpace(c.APIHash) == "" {
		return E(KindInvalidInput, "credentials", fmt.Errorf("api_hash is empty"))
	}
	return nil
}

// NormalizePhone strips spaces, dashes and parentheses and keeps a leading plus.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidatePhone reports invalid-input for anything that is not E.164-like.
func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return E(KindInvalidInput, "phone", fmt.Errorf("malformed phone number %q", phone))
	}
	return nil
}

// ValidateCode reports invalid-input for a code that is not 4-8 digits.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return E(KindInvalidInput, "code", fmt.Errorf("malformed code"))
	}
	return nil
}
