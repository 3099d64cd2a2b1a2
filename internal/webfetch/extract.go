// ABOUTME: HTML to plain text conversion for fetched pages
// ABOUTME: Drops non-visible elements and joins the remaining text with single spaces

package webfetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hidden elements whose text content is never shown to a reader.
var hidden = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
}

// ExtractText returns the visible text of an HTML document, whitespace-collapsed.
func ExtractText(page string) string {
	z := html.NewTokenizer(strings.NewReader(page))

	var words []string
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way we keep what was read.
			return strings.Join(words, " ")

		case html.StartTagToken:
			name, _ := z.TagName()
			if hidden[atom.Lookup(name)] {
				skipDepth++
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			if hidden[atom.Lookup(name)] && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			words = append(words, strings.Fields(string(z.Text()))...)
		}
	}
}
