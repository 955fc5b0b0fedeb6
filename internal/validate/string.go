// Package validate provides centralized input validation and sanitization
// utilities for the crewgate API.
package validate

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort = errors.New("string is too short")
	ErrStringTooLong  = errors.New("string is too long")
	ErrEmpty          = errors.New("string is empty")
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength  int  // Minimum length (0 = no minimum)
	MaxLength  int  // Maximum length (0 = no maximum)
	AllowEmpty bool // Whether empty strings are allowed
	TrimSpace  bool // Whether to trim whitespace before validation
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if
// validation fails. Lengths are counted in runes, not bytes.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	length := utf8.RuneCountInString(s)
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: minimum length is %d", ErrStringTooShort, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: maximum length is %d", ErrStringTooLong, constraints.MaxLength)
	}

	return s, nil
}

// SanitizeHTML escapes HTML special characters to prevent XSS when values are
// rendered in a browser context.
func SanitizeHTML(s string) string {
	return html.EscapeString(s)
}

// HolderName validates a credential holder's name.
func HolderName(name string) (string, error) {
	return String(name, StringConstraints{
		MinLength: 1,
		MaxLength: 200,
		TrimSpace: true,
	})
}

// EventName validates an event name.
func EventName(name string) (string, error) {
	return String(name, StringConstraints{
		MinLength: 1,
		MaxLength: 200,
		TrimSpace: true,
	})
}

// Note validates a free-text note or revocation reason. Empty is allowed;
// presence requirements are enforced by the lifecycle rules, not here.
func Note(note string) (string, error) {
	return String(note, StringConstraints{
		MaxLength:  1000,
		AllowEmpty: true,
		TrimSpace:  true,
	})
}
