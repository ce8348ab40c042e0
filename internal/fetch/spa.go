package fetch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FromHydration extracts text from the embedded hydration payload of a
// single-page-app page. Community rating sites render nothing useful into
// HTML; their data lives in a JSON blob the client-side app boots from.
// Returns ok=false when no payload is found or it decodes to nothing
// useful, in which case the caller falls back to generic tag stripping.
func FromHydration(body string) (string, bool) {
	raw, ok := hydrationJSON(body)
	if !ok {
		return "", false
	}
	var root any
	if err := json.Unmarshal([]byte(raw), &root); err != nil {
		return "", false
	}
	var b strings.Builder
	collectHydration(&b, "", root, 0)
	text := strings.TrimSpace(b.String())
	if len(text) < MinContentLength {
		return "", false
	}
	return text, true
}

// hydrationJSON locates the JSON payload inside a __NEXT_DATA__ script tag
// or a window.__PRELOADED_STATE__ assignment.
func hydrationJSON(body string) (string, bool) {
	if i := strings.Index(body, `id="__NEXT_DATA__"`); i >= 0 {
		start := strings.Index(body[i:], ">")
		if start >= 0 {
			rest := body[i+start+1:]
			if end := strings.Index(rest, "</script>"); end > 0 {
				return rest[:end], true
			}
		}
	}
	for _, marker := range []string{"window.__PRELOADED_STATE__", "window.__INITIAL_STATE__"} {
		i := strings.Index(body, marker)
		if i < 0 {
			continue
		}
		rest := body[i+len(marker):]
		eq := strings.Index(rest, "=")
		if eq < 0 {
			continue
		}
		rest = strings.TrimSpace(rest[eq+1:])
		if payload, ok := balancedJSON(rest); ok {
			return payload, true
		}
	}
	return "", false
}

// balancedJSON returns the leading brace-balanced object of s, skipping
// braces inside string literals.
func balancedJSON(s string) (string, bool) {
	if len(s) == 0 || s[0] != '{' {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// interestingKeys are hydration fields worth surfacing to extraction.
var interestingKeys = map[string]struct{}{
	"name": {}, "title": {}, "description": {}, "summary": {},
	"rating": {}, "ratings": {}, "average": {}, "score": {}, "points": {},
	"review": {}, "reviews": {}, "note": {}, "notes": {}, "text": {},
	"vintage": {}, "winery": {}, "region": {}, "grape": {}, "award": {},
	"medal": {}, "count": {},
}

const maxHydrationDepth = 12

func collectHydration(b *strings.Builder, key string, v any, depth int) {
	if depth > maxHydrationDepth {
		return
	}
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectHydration(b, strings.ToLower(k), val[k], depth+1)
		}
	case []any:
		for _, item := range val {
			collectHydration(b, key, item, depth+1)
		}
	case string:
		if _, ok := interestingKeys[key]; ok && len(strings.TrimSpace(val)) > 1 {
			fmt.Fprintf(b, "%s: %s\n", key, strings.TrimSpace(val))
		}
	case float64:
		if _, ok := interestingKeys[key]; ok {
			fmt.Fprintf(b, "%s: %g\n", key, val)
		}
	}
}
