package collection

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PreviewRunes caps note previews on grid cards.
const PreviewRunes = 200

// ListPreviewItems caps how many active items a list card shows.
const ListPreviewItems = 5

// PlainText returns the text content of editor markup with whitespace
// collapsed. Block boundaries become single spaces.
func PlainText(markup string) string {
	if !strings.ContainsAny(markup, "<&") {
		return collapse(markup)
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; keep what was read.
			return collapse(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if isBreak(atom.Lookup(name)) {
				b.WriteByte(' ')
			}
		}
	}
}

func isBreak(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Br, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Blockquote,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Pre, atom.Hr:
		return true
	}
	return false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsBlank reports whether markup has no visible text.
func IsBlank(markup string) bool {
	return PlainText(markup) == ""
}

// Preview strips markup and truncates to PreviewRunes runes.
func Preview(markup string) string {
	text := PlainText(markup)
	if utf8.RuneCountInString(text) <= PreviewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:PreviewRunes])
}
