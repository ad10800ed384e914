package domain

import (
	"errors"
	"strings"
	"unicode"
)

// NormalizeHumanName trims leading/trailing whitespace and collapses internal whitespace runs.
// It is used for display names and location labels.
func NormalizeHumanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

const (
	minContactDigits = 10
	maxContactDigits = 15
)

var (
	ErrContactHandleEmpty   = errors.New("contact handle is required")
	ErrContactHandleInvalid = errors.New("contact handle must contain 10-15 digits")
)

// NormalizeContactHandle strips every non-digit from a messaging-app phone number
// and returns the digits-only form. Country codes are kept as typed.
func NormalizeContactHandle(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrContactHandleEmpty
	}
	var sb strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	digits := sb.String()
	if len(digits) < minContactDigits || len(digits) > maxContactDigits {
		return "", ErrContactHandleInvalid
	}
	return digits, nil
}
