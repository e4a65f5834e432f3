package review

import (
	"html"
	"regexp"
	"strings"
)

var (
	boldPattern = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	codePattern = regexp.MustCompile("``?([^`]+)``?")
)

// RenderHTML produces the HTML-escaped rendering of a markdown comment. The
// raw text is kept as the source of truth; this output is display-only and
// supports the small markdown subset comments use in practice.
func RenderHTML(markdown string) string {
	out := html.EscapeString(markdown)
	out = boldPattern.ReplaceAllString(out, "<strong>$1</strong>")
	out = codePattern.ReplaceAllString(out, "<code>$1</code>")
	out = strings.ReplaceAll(out, "\n", "<br/>")
	return out
}
