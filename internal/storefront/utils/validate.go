package utils

import "strings"

// MinCodeLength is the shortest redeemable code accepted on import
const MinCodeLength = 15

// IsNumeric checks if a string is a non-empty run of ASCII digits
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsAlphanumeric checks if a string contains only ASCII letters and digits
func IsAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// ValidateCode checks a top-up code before import
func ValidateCode(code string) bool {
	return len(code) >= MinCodeLength && IsAlphanumeric(code)
}

// SplitCodes splits pasted input on any whitespace
func SplitCodes(input string) []string {
	return strings.Fields(input)
}
