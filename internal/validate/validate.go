// Package validate checks investor identifier formats and masks PANs for display.
package validate

import (
	"regexp"
	"strings"
)

var (
	panPattern   = regexp.MustCompile(`^[A-Za-z]{5}[0-9]{4}[A-Za-z]$`)
	appNoPattern = regexp.MustCompile(`^[0-9]{8,12}$`)
	dpPattern    = regexp.MustCompile(`^[0-9]{8}$`)
)

const (
	panMaskPrefix = "******"
	panMaskEmpty  = "****"
)

// ValidatePAN reports whether value is a PAN: five letters, four digits, one letter.
// Letters are ASCII only, in either case.
func ValidatePAN(value string) bool {
	if value == "" {
		return false
	}
	return panPattern.MatchString(value)
}

// NormalizePAN upper-cases the ASCII letters of a PAN before it is sent upstream. Other
// runes are left alone so no Unicode case mapping can turn them into PAN letters.
func NormalizePAN(value string) string {
	return strings.Map(asciiUpper, strings.TrimSpace(value))
}

func asciiUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

// ValidateApplicationNumber reports whether value is 8 to 12 digits.
func ValidateApplicationNumber(value string) bool {
	return appNoPattern.MatchString(value)
}

// ValidateDPClientID reports whether both IDs are present and exactly 8 digits each.
func ValidateDPClientID(dpID, clientID string) bool {
	if dpID == "" || clientID == "" {
		return false
	}
	return dpPattern.MatchString(dpID) && dpPattern.MatchString(clientID)
}

// MaskPAN hides all but the last four characters of a PAN.
// Inputs shorter than four characters are fully masked.
func MaskPAN(value string) string {
	runes := []rune(value)
	if len(runes) < 4 {
		return panMaskEmpty
	}
	return panMaskPrefix + string(runes[len(runes)-4:])
}
