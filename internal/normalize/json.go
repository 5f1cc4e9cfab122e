package normalize

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// JSON applies dot-path rules to a json registrar response.
func JSON(body []byte, rules *allotment.JSONRules) (allotment.Result, error) {
	if !gjson.ValidBytes(body) {
		return allotment.Result{}, ErrParse
	}
	result := allotment.DefaultResult()
	if rules == nil {
		return result, nil
	}
	root := gjson.ParseBytes(body)

	if value, ok := lookup(root, rules.StatusPath); ok {
		if status, ok := classify(value.String()); ok {
			result.Status = status
		}
	}
	if value, ok := lookup(root, rules.SharesPath); ok {
		if shares, ok := intValue(value); ok {
			result.Shares = shares
		}
	}
	if value, ok := lookup(root, rules.AppNoPath); ok {
		result.ApplicationNo = strPtr(value.String())
	}
	if value, ok := lookup(root, rules.RefundPath); ok {
		if amount, ok := floatValue(value); ok {
			result.RefundAmount = amount
		}
	}
	return result.Normalize(), nil
}

// lookup walks a dot-separated path. Missing segments, null and empty values are absent.
func lookup(root gjson.Result, path string) (gjson.Result, bool) {
	if path == "" {
		return gjson.Result{}, false
	}
	value := root.Get(escapePath(path))
	switch {
	case !value.Exists(), value.Type == gjson.Null:
		return gjson.Result{}, false
	case value.Type == gjson.String && value.Str == "":
		return gjson.Result{}, false
	}
	return value, true
}

// escapePath keeps gjson wildcard and modifier characters literal inside each segment.
func escapePath(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for _, r := range path {
		switch r {
		case '*', '?', '#', '@', '|', '!', '=', '<', '>', '%', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// intValue reads a count. Numeric strings keep their sign so "-5" is clamped by
// Result.Normalize like the number -5; other text falls back to its first digit run.
func intValue(value gjson.Result) (int, bool) {
	switch value.Type {
	case gjson.Number:
		return int(value.Int()), true
	case gjson.String:
		text := strings.TrimSpace(value.Str)
		n, err := strconv.ParseInt(text, 10, 64)
		switch {
		case err == nil:
			return int(n), true
		case errors.Is(err, strconv.ErrRange):
			if strings.HasPrefix(text, "-") {
				return math.MinInt, true
			}
			return math.MaxInt, true
		}
		return firstInt(text)
	default:
		return 0, false
	}
}

// floatValue reads an amount, keeping the sign of plain numeric strings.
func floatValue(value gjson.Result) (float64, bool) {
	switch value.Type {
	case gjson.Number:
		return value.Float(), true
	case gjson.String:
		text := strings.ReplaceAll(strings.TrimSpace(value.Str), ",", "")
		if amount, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(amount) && !math.IsInf(amount, 0) {
			return amount, true
		}
		return parseAmount(value.Str)
	default:
		return 0, false
	}
}
