// Package normalize turns registrar responses into the canonical allotment record.
//
// Two variants share one output shape: HTML applies CSS selector rules to a parsed document,
// JSON applies dot-separated path rules to a parsed object. Every rule is optional and every
// extraction is an independent lookup; a missing rule or a missing match is skipped. Only a
// structurally unreadable body is an error.
package normalize

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// ErrParse is returned when a response body cannot be parsed at all.
var ErrParse = errors.New("failed to parse registrar response")

const defaultNotFoundMessage = "No record found for the provided details"

var (
	digitRun    = regexp.MustCompile(`[0-9]+`)
	decimalText = regexp.MustCompile(`[0-9][0-9,]*\.?[0-9]*`)
)

// classify maps free status text onto a status. Negative phrases are checked first because
// "not allotted" also contains "allotted".
func classify(text string) (allotment.Status, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case lower == "":
		return "", false
	case strings.Contains(lower, "not allotted"), strings.Contains(lower, "not allocated"):
		return allotment.StatusNotAllotted, true
	case strings.Contains(lower, "allotted"),
		strings.Contains(lower, "allocated"),
		strings.Contains(lower, "success"):
		return allotment.StatusAllotted, true
	default:
		return "", false
	}
}

// firstInt extracts the first run of digits in text. Runs too long for an int saturate.
func firstInt(text string) (int, bool) {
	match := digitRun.FindString(text)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	switch {
	case err == nil:
		return n, true
	case errors.Is(err, strconv.ErrRange):
		return math.MaxInt, true
	default:
		return 0, false
	}
}

// parseAmount extracts a decimal amount, dropping thousands separators.
func parseAmount(text string) (float64, bool) {
	match := decimalText.FindString(text)
	if match == "" {
		return 0, false
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}

func strPtr(s string) *string {
	return &s
}
