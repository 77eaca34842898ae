package domain

import (
	"strings"

	"github.com/haukened/rr-rulecheck/internal/rules/common/utils"
)

const (
	maxNameLength  = 253
	maxLabelLength = 63
)

// NormalizeName canonicalizes a candidate domain (trim, lowercase, no trailing
// dot, punycode) and reports whether the result is a well-formed domain.
// Malformed candidates return ("", false) rather than an error.
func NormalizeName(raw string) (string, bool) {
	name := utils.CanonicalDNSName(raw)
	if name == "" {
		return "", false
	}
	name, err := utils.ASCIIName(name)
	if err != nil {
		return "", false
	}
	if !IsValidName(name) {
		return "", false
	}
	return name, true
}

// IsValidName reports whether name is a normalized, well-formed domain:
//   - 1..253 characters, at least two labels
//   - each label 1..63 characters of [a-z0-9_-], not starting or ending with '-'
//   - the top-level label is not purely numeric, so IPv4 literals are rejected
func IsValidName(name string) bool {
	if len(name) == 0 || len(name) > maxNameLength {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !isValidLabel(label) {
			return false
		}
	}
	return !isNumeric(labels[len(labels)-1])
}

func isValidLabel(label string) bool {
	if len(label) == 0 || len(label) > maxLabelLength {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
