// Package detector inspects registrar bodies for bot challenges and unrendered script shells.
package detector

import (
	"bytes"
	"strings"
)

// DefaultChallengeMarkers are the case-insensitive substrings that mark a bot challenge page.
var DefaultChallengeMarkers = []string{"captcha", "recaptcha"}

// Challenge reports bot-challenge pages by marker scan.
type Challenge struct {
	markers [][]byte
}

// NewChallenge builds a Challenge detector. No markers means DefaultChallengeMarkers.
func NewChallenge(markers ...string) *Challenge {
	if len(markers) == 0 {
		markers = DefaultChallengeMarkers
	}
	c := &Challenge{}
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		c.markers = append(c.markers, bytes.ToLower([]byte(m)))
	}
	return c
}

// Detect reports whether body contains any marker, ignoring case.
func (c *Challenge) Detect(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range c.markers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Shell flags html responses that are likely script shells needing a browser to render.
type Shell struct {
	BodyLengthThreshold int
}

// NewShell creates a Shell detector. Zero threshold means 2048 bytes.
func NewShell(threshold int) *Shell {
	if threshold == 0 {
		threshold = 2048
	}
	return &Shell{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// LooksUnrendered reports whether a 200 body is empty, script-dominated or a known SPA mount point.
func (s *Shell) LooksUnrendered(statusCode int, body []byte) bool {
	if statusCode != 200 {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < s.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether <script> elements cover at least a quarter of body.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := total
		if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
			end = contentStart + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}
