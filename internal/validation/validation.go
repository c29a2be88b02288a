package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidMonth is returned when the month is outside 1..12.
var ErrInvalidMonth = errors.New("month must be between 1 and 12")

// ErrRegionIDEmpty is returned when the region ID is empty after trim.
var ErrRegionIDEmpty = errors.New("region id is required")

// ErrRegionIDInvalidChars is returned when the region ID contains disallowed characters.
var ErrRegionIDInvalidChars = errors.New("region id contains invalid characters")

// ValidateMonth checks that month is a calendar month number.
func ValidateMonth(month int) error {
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// ValidateRegionID trims the input and restricts it to lowercase letters,
// digits, hyphen and underscore (catalog IDs look like "vn-da-nang").
// Returns the trimmed string or an error suitable for 400 responses.
func ValidateRegionID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrRegionIDEmpty
	}
	for _, r := range s {
		if !isAllowedRegionIDRune(r) {
			return "", ErrRegionIDInvalidChars
		}
	}
	return s, nil
}

func isAllowedRegionIDRune(r rune) bool {
	if unicode.IsLower(r) || unicode.IsDigit(r) {
		return true
	}
	return r == '-' || r == '_'
}
