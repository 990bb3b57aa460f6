package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"notekeep/api/internal/collection"
	"notekeep/api/internal/store"
)

// Kind identifies the collection a hit came from.
type Kind string

const (
	KindList Kind = "list"
	KindNote Kind = "note"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. Owner is mandatory; searches never cross
// users.
type Query struct {
	Owner string
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a search over one owner's records.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data we index for a list or note. Text is the plain text of
// the note body or the list items in display order.
type Record struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"kind"`
	Owner string `json:"owner"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

const (
	defaultLimit = 20
	snippetRunes = 120
)

func ListRecord(list store.ListWithItems) Record {
	parts := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		if text := collection.PlainText(item.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return Record{
		ID:    list.ID,
		Kind:  KindList,
		Owner: list.UserID,
		Title: list.TitleText(),
		Text:  strings.Join(parts, " "),
	}
}

func NoteRecord(note store.Note) Record {
	return Record{
		ID:    note.ID,
		Kind:  KindNote,
		Owner: note.UserID,
		Title: note.TitleText(),
		Text:  collection.PlainText(note.ContentText()),
	}
}

func (r Record) matches(needle string) bool {
	return strings.Contains(strings.ToLower(r.Title), needle) ||
		strings.Contains(strings.ToLower(r.Text), needle)
}

func (r Record) result(needle string) Result {
	return Result{Kind: r.Kind, ID: r.ID, Title: r.Title, Snippet: snippet(r.Text, needle)}
}

// snippet returns a window of text around the first occurrence of needle,
// or the head of text when needle does not occur in it.
func snippet(text, needle string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	start := 0
	lower := strings.ToLower(text)
	if i := strings.Index(lower, needle); i > 0 {
		start = utf8.RuneCountInString(lower[:i]) - snippetRunes/4
		if start < 0 {
			start = 0
		}
		if start > len(runes)-snippetRunes {
			start = len(runes) - snippetRunes
		}
	}
	end := start + snippetRunes
	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
