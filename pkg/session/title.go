package session

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// htmlTitle pulls the <title> out of a markup body. Upstreams that block us
// tend to answer 200 with an "Access Denied" page, and the title is the
// cheapest way to see that in logs.
func htmlTitle(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return "", false
	}
	doc, err := html.Parse(bytes.NewReader(trimmed))
	if err != nil {
		return "", false
	}
	var walk func(n *html.Node) (string, bool)
	walk = func(n *html.Node) (string, bool) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil {
				return n.FirstChild.Data, true
			}
			return "", true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title, ok := walk(c); ok {
				return title, ok
			}
		}
		return "", false
	}
	title, ok := walk(doc)
	if !ok {
		return "", false
	}
	title = strings.Join(strings.Fields(title), " ")
	return title, title != ""
}
