package fetch

import (
	"strings"

	"golang.org/x/net/html"
)

// FromHTML strips an HTML page down to its readable text, preferring the
// main or article element and skipping navigation, script and cookie
// boilerplate.
func FromHTML(body string) string {
	node, err := html.Parse(strings.NewReader(body))
	if err != nil || node == nil {
		return ""
	}
	content := findFirst(node, "main")
	if content == nil {
		content = findFirst(node, "article")
	}
	if content == nil {
		content = findFirst(node, "body")
	}
	if content == nil {
		return ""
	}
	var b strings.Builder
	collectText(&b, content)
	return normalizeWhitespace(b.String())
}

func findFirst(n *html.Node, tag string) *html.Node {
	var res *html.Node
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		if res != nil {
			return
		}
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, tag) {
			res = cur
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
			if res != nil {
				return
			}
		}
	}
	dfs(n)
	return res
}

func collectText(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		if isBoilerplate(n) {
			return
		}
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "nav", "footer", "aside", "iframe":
			return
		case "br", "hr", "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "tr":
			b.WriteString("\n")
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(strings.ReplaceAll(n.Data, "\t", " "))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "tr":
			b.WriteString("\n")
		case "td", "th":
			b.WriteString(" ")
		}
	}
}

// isBoilerplate spots cookie and consent containers by their attributes.
func isBoilerplate(n *html.Node) bool {
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && key != "role" {
			continue
		}
		val := strings.ToLower(attr.Val)
		for _, marker := range []string{"cookie", "consent", "gdpr"} {
			if strings.Contains(val, marker) {
				return true
			}
		}
	}
	return false
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.Join(strings.Fields(line), " ")
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, trimmed)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	return strings.Join(out, "\n")
}
