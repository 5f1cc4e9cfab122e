package engine

import (
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// DefaultUserAgents is the browser User-Agent pool rotated across registrar requests.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

const (
	acceptJSON = "application/json"
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// BuildURL substitutes every {key} placeholder in template with the percent-encoded value.
// Placeholders without a matching key are left verbatim.
func BuildURL(template string, params allotment.CheckParams) string {
	out := template
	for key, value := range params {
		out = strings.ReplaceAll(out, "{"+key+"}", encodeComponent(value))
	}
	return out
}

// encodeComponent percent-encodes s as a single URI component. Only letters, digits
// and -_.!~*'() pass through unescaped.
func encodeComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreservedComponent(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// requestHeaders builds the outbound header set for one registrar request.
func requestHeaders(format allotment.Format, userAgent string) http.Header {
	accept := acceptHTML
	if format == allotment.FormatJSON {
		accept = acceptJSON
	}
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", accept)
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Cache-Control", "no-cache")
	return h
}

func pickUserAgent(pool []string) string {
	if len(pool) == 0 {
		return DefaultUserAgents[0]
	}
	return pool[rand.IntN(len(pool))]
}
