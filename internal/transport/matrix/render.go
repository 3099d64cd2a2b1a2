// ABOUTME: Renders replies for Matrix: markdown to HTML and keyboards as numbered choices
// ABOUTME: A typed choice number is mapped back to its label on the way in

package matrix

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
)

// renderText appends keyboard rows to text as a numbered list and returns the
// flattened labels in display order.
func renderText(text string, keyboard [][]string) (string, []string) {
	var labels []string
	for _, row := range keyboard {
		labels = append(labels, row...)
	}
	if len(labels) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n")
	for i, label := range labels {
		fmt.Fprintf(&b, "%d. %s\n", i+1, label)
	}
	b.WriteString("\nReply with a number or the option text.")
	return b.String(), labels
}

// renderHTML converts markdown to HTML. ok is false when the output adds nothing
// over the plain body.
func renderHTML(md string) (html string, ok bool) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", false
	}
	html = strings.TrimSpace(buf.String())
	plain := "<p>" + md + "</p>"
	if html == "" || html == plain {
		return "", false
	}
	return html, true
}

// resolveChoice maps "2" to the second label. Anything else is returned unchanged.
func resolveChoice(text string, labels []string) string {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ".")))
	if err != nil || n < 1 || n > len(labels) {
		return text
	}
	return labels[n-1]
}
