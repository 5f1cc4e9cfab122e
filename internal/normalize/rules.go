package normalize

import (
	"fmt"
	"maps"
	"slices"

	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// Parse dispatches body to the variant matching the registrar's declared format.
func Parse(format allotment.Format, body []byte, rules allotment.ParsingRules) (allotment.Result, error) {
	switch format {
	case allotment.FormatJSON:
		return JSON(body, rules.JSON)
	case allotment.FormatHTML:
		return HTML(body, rules.HTML)
	default:
		return allotment.Result{}, fmt.Errorf("%w: unsupported format %q", ErrParse, format)
	}
}

// ValidateRules reports selectors that will never match because they do not compile.
// Those rules are skipped at check time; this surfaces them at load time instead.
func ValidateRules(profile allotment.RegistrarProfile) []error {
	if profile.ResponseFormat != allotment.FormatHTML || profile.ParsingRules.HTML == nil {
		return nil
	}
	rules := profile.ParsingRules.HTML
	named := map[string]string{
		"status_selector": rules.StatusSelector,
		"shares_selector": rules.SharesSelector,
		"app_no_selector": rules.AppNoSelector,
		"refund_selector": rules.RefundSelector,
		"ready_selector":  rules.ReadySelector,
	}
	for i, sel := range rules.NotFoundSelectors {
		named[fmt.Sprintf("not_found_selectors[%d]", i)] = sel
	}

	var problems []error
	for _, field := range slices.Sorted(maps.Keys(named)) {
		sel := named[field]
		if sel == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			problems = append(problems, fmt.Errorf("registrar %s: %s %q: %w", profile.Slug, field, sel, err))
		}
	}
	return problems
}
