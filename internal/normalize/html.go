package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// HTML applies selector rules to an html registrar response.
// A matching not-found selector returns immediately; no other rule is evaluated.
func HTML(body []byte, rules *allotment.HTMLRules) (allotment.Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return allotment.Result{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	result := allotment.DefaultResult()
	if rules == nil {
		return result, nil
	}

	for _, sel := range rules.NotFoundSelectors {
		if sel == "" {
			continue
		}
		if found := doc.Find(sel); found.Length() > 0 {
			msg := strings.TrimSpace(found.Text())
			if msg == "" {
				msg = defaultNotFoundMessage
			}
			result.Message = strPtr(msg)
			return result, nil
		}
	}

	if text, ok := selectText(doc, rules.StatusSelector); ok {
		if status, ok := classify(text); ok {
			result.Status = status
		}
	}
	if text, ok := selectText(doc, rules.SharesSelector); ok {
		if shares, ok := firstInt(text); ok {
			result.Shares = shares
		}
	}
	if text, ok := selectText(doc, rules.AppNoSelector); ok {
		result.ApplicationNo = strPtr(text)
	}
	if text, ok := selectText(doc, rules.RefundSelector); ok {
		if amount, ok := parseAmount(text); ok {
			result.RefundAmount = amount
		}
	}
	return result.Normalize(), nil
}

// selectText returns the trimmed text of every element matching sel.
func selectText(doc *goquery.Document, sel string) (string, bool) {
	if sel == "" {
		return "", false
	}
	found := doc.Find(sel)
	if found.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(found.Text()), true
}
