// Package render turns AI output into displayable HTML.
//
// The markdown conversion is deliberately minimal: headers, bold, italic,
// unordered lists, and line breaks. Study guides never use more than that,
// and anything unrecognized passes through as escaped text.
package render

import (
	"html"
	"strings"
)

// Prose escapes plain text and converts newlines to visual breaks.
func Prose(text string) string {
	escaped := html.EscapeString(strings.TrimSpace(text))
	return strings.ReplaceAll(escaped, "\n", "<br>")
}

// Markdown converts the supported markdown subset to safe HTML. Input is
// escaped before any tags are introduced, so model output cannot inject
// markup.
func Markdown(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var out strings.Builder
	inList := false
	closeList := func() {
		if inList {
			out.WriteString("</ul>\n")
			inList = false
		}
	}

	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			closeList()
			out.WriteString("<br>\n")
		case strings.HasPrefix(trimmed, "### "):
			closeList()
			out.WriteString("<h3>" + inline(strings.TrimPrefix(trimmed, "### ")) + "</h3>\n")
		case strings.HasPrefix(trimmed, "## "):
			closeList()
			out.WriteString("<h2>" + inline(strings.TrimPrefix(trimmed, "## ")) + "</h2>\n")
		case strings.HasPrefix(trimmed, "# "):
			closeList()
			out.WriteString("<h1>" + inline(strings.TrimPrefix(trimmed, "# ")) + "</h1>\n")
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			if !inList {
				out.WriteString("<ul>\n")
				inList = true
			}
			out.WriteString("<li>" + inline(trimmed[2:]) + "</li>\n")
		default:
			closeList()
			out.WriteString("<p>" + inline(trimmed) + "</p>\n")
		}
	}
	closeList()

	return strings.TrimSpace(out.String())
}

// inline escapes a fragment and applies bold/italic spans.
func inline(text string) string {
	escaped := html.EscapeString(text)
	escaped = replacePairs(escaped, "**", "<strong>", "</strong>")
	escaped = replacePairs(escaped, "*", "<em>", "</em>")
	return escaped
}

// replacePairs swaps matched delimiter pairs for open/close tags, leaving an
// unmatched trailing delimiter untouched.
func replacePairs(text, delim, open, close string) string {
	parts := strings.Split(text, delim)
	if len(parts) < 3 {
		return text
	}
	var out strings.Builder
	out.WriteString(parts[0])
	rest := parts[1:]
	for len(rest) >= 2 {
		out.WriteString(open + rest[0] + close + rest[1])
		rest = rest[2:]
	}
	if len(rest) == 1 {
		out.WriteString(delim + rest[0])
	}
	return out.String()
}
