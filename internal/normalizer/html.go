package normalizer

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// extractHTML parses a page and returns its visible text with script,
// style, and markup stripped and whitespace collapsed.
func extractHTML(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	collectText(doc, &b)
	return strings.Join(strings.Fields(b.String()), " "), nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "head":
			return
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
