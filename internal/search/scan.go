package search

import (
	"context"
	"fmt"
	"strings"
)

// Loader returns every searchable record of one owner.
type Loader func(ctx context.Context, owner string) ([]Record, error)

// Scanner implements Searcher by loading an owner's records and matching them
// in process. It backs search when no database is configured.
type Scanner struct {
	load Loader
}

func NewScanner(load Loader) *Scanner {
	return &Scanner{load: load}
}

func (s *Scanner) Healthy() bool { return true }

func (s *Scanner) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" || q.Owner == "" {
		return nil, 0, nil
	}
	records, err := s.load(ctx, q.Owner)
	if err != nil {
		return nil, 0, fmt.Errorf("scan load: %w", err)
	}

	limit := normalizeLimit(q.Limit)
	results := make([]Result, 0)
	total := 0
	for _, r := range records {
		if r.Owner != q.Owner || !r.matches(needle) {
			continue
		}
		total++
		if len(results) < limit {
			results = append(results, r.result(needle))
		}
	}
	return results, total, nil
}
