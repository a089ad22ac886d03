package types

import (
	"fmt"
	"regexp"
	"strings"
)

var nonDigit = regexp.MustCompile(`\D`)

// NormalizePhone formats a Korean phone number with hyphens. Seoul numbers
// (02) use a two-digit area code, mobile and other area codes three digits.
// Eight-digit service numbers (1588-xxxx) are split in half.
func NormalizePhone(s string) (string, error) {
	digits := nonDigit.ReplaceAllString(s, "")
	if strings.HasPrefix(digits, "82") && len(digits) >= 11 {
		digits = "0" + digits[2:]
	}

	switch {
	case len(digits) == 8 && strings.HasPrefix(digits, "1"):
		return digits[:4] + "-" + digits[4:], nil
	case strings.HasPrefix(digits, "02") && (len(digits) == 9 || len(digits) == 10):
		mid := len(digits) - 6
		return digits[:2] + "-" + digits[2:2+mid] + "-" + digits[2+mid:], nil
	case strings.HasPrefix(digits, "0") && (len(digits) == 10 || len(digits) == 11):
		mid := len(digits) - 7
		return digits[:3] + "-" + digits[3:3+mid] + "-" + digits[3+mid:], nil
	}
	return "", fmt.Errorf("invalid phone number %q", s)
}

// PhoneDigits strips everything but digits.
func PhoneDigits(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}
