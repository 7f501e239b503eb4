// Package parse implements the response normalization chain used against
// retailer endpoints. Upstream bodies arrive as bare JSON arrays, nested
// JSON graphs, or JSON embedded in HTML script tags; each shape gets its own
// parser and the chain tries them in order until one yields data.
package parse

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// Parser attempts to extract a list of raw records from a response body.
// A false return means "this shape doesn't apply", never an error: total
// failure of a chain is a degradation signal handled by the caller.
type Parser func(body []byte) ([]gjson.Result, bool)

// Chain returns a parser that tries each parser in order and returns the
// first successful extraction.
func Chain(parsers ...Parser) Parser {
	return func(body []byte) ([]gjson.Result, bool) {
		for _, p := range parsers {
			if records, ok := p(body); ok {
				return records, true
			}
		}
		return nil, false
	}
}

// Array matches a body that is a JSON array of records.
func Array() Parser {
	return func(body []byte) ([]gjson.Result, bool) {
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || trimmed[0] != '[' || !gjson.ValidBytes(trimmed) {
			return nil, false
		}
		parsed := gjson.ParseBytes(trimmed)
		if !parsed.IsArray() {
			return nil, false
		}
		return parsed.Array(), true
	}
}

// Nested matches a JSON object holding a record array at one of the given
// dotted paths, tried in order. Paths may be arbitrarily deep, e.g.
// "shop.magellan.v2.page.region.US".
func Nested(paths ...string) Parser {
	return func(body []byte) ([]gjson.Result, bool) {
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || trimmed[0] != '{' || !gjson.ValidBytes(trimmed) {
			return nil, false
		}
		for _, path := range paths {
			v := gjson.GetBytes(trimmed, path)
			if v.IsArray() && len(v.Array()) > 0 {
				return v.Array(), true
			}
		}
		return nil, false
	}
}

// Script-tag IDs known to carry full-page JSON state, tried first.
var embeddedSelectors = []string{
	"script#__NEXT_DATA__",
	"script[type='application/json']",
}

// Global-state assignments scraped out of inline scripts.
var embeddedAssignments = []*regexp.Regexp{
	regexp.MustCompile(`window\.__PRELOADED_STATE__\s*=`),
	regexp.MustCompile(`window\.__TGT_DATA__\s*=`),
	regexp.MustCompile(`window\.App\s*=`),
}

// Bare JSON literals worth capturing when nothing structured matched.
var embeddedLiterals = []*regexp.Regexp{
	regexp.MustCompile(`"stores"\s*:\s*\[`),
	regexp.MustCompile(`"products"\s*:\s*\[`),
	regexp.MustCompile(`"items"\s*:\s*\[`),
}

// Embedded matches an HTML body with a JSON payload buried in markup. Each
// known marker is tried in order; the first captured fragment that the inner
// parser accepts wins.
func Embedded(inner Parser) Parser {
	return func(body []byte) ([]gjson.Result, bool) {
		if !looksLikeMarkup(body) {
			return nil, false
		}
		for _, fragment := range embeddedFragments(body) {
			if records, ok := inner([]byte(fragment)); ok {
				return records, true
			}
		}
		return nil, false
	}
}

func looksLikeMarkup(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

// embeddedFragments collects candidate JSON fragments from markup in marker
// precedence order: script tags by selector, then global-state assignments,
// then bare record-array literals.
func embeddedFragments(body []byte) []string {
	var fragments []string

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		for _, sel := range embeddedSelectors {
			doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
				text := strings.TrimSpace(s.Text())
				if text != "" && gjson.Valid(text) {
					fragments = append(fragments, text)
				}
			})
		}
	}

	text := string(body)
	for _, re := range embeddedAssignments {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if frag, ok := balancedFrom(text[loc[1]:], '{', '}'); ok && gjson.Valid(frag) {
			fragments = append(fragments, frag)
		}
	}

	for _, re := range embeddedLiterals {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		// The match ends on the opening bracket of the record array.
		if frag, ok := balancedFrom(text[loc[1]-1:], '[', ']'); ok && gjson.Valid(frag) {
			fragments = append(fragments, frag)
		}
	}

	return fragments
}

// balancedFrom captures a balanced open..close run starting at the first
// occurrence of open, skipping string literals and escapes.
func balancedFrom(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
