package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"notekeep/api/internal/collection"
)

// Postgres implements Searcher with case-insensitive pattern matching over
// list titles, item content, note titles and note content.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *Postgres) Healthy() bool {
	return true
}

const pgSearchSQL = `
	SELECT kind, id, user_id, title, body FROM (
		SELECT 'list'::text AS kind, l.id, l.user_id, coalesce(l.title, '') AS title,
			coalesce(string_agg(i.content, ' ' ORDER BY i.is_completed, i.position), '') AS body,
			l.updated_at
		FROM lists l
		LEFT JOIN list_items i ON i.list_id = l.id
		WHERE l.user_id = $1 AND NOT l.is_archived
		GROUP BY l.id
		HAVING coalesce(l.title, '') ILIKE $2 OR coalesce(bool_or(i.content ILIKE $2), false)
		UNION ALL
		SELECT 'note'::text, n.id, n.user_id, coalesce(n.title, ''), coalesce(n.content, ''), n.updated_at
		FROM notes n
		WHERE n.user_id = $1 AND NOT n.is_archived
			AND (coalesce(n.title, '') ILIKE $2 OR coalesce(n.content, '') ILIKE $2)
	) sub
	ORDER BY updated_at DESC`

func (p *Postgres) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" || q.Owner == "" {
		return nil, 0, nil
	}

	rows, err := p.db.QueryContext(ctx, pgSearchSQL, q.Owner, "%"+escapeLike(needle)+"%")
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}

	limit := normalizeLimit(q.Limit)
	results := make([]Result, 0, min(limit, len(records)))
	total := 0
	for _, r := range records {
		// The pattern ran against markup and may have matched inside a tag.
		if !r.matches(needle) {
			continue
		}
		total++
		if len(results) < limit {
			results = append(results, r.result(needle))
		}
	}
	return results, total, nil
}

// LoadAllRecords returns every non-archived list and note for a full reindex.
func (p *Postgres) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT 'list'::text, l.id, l.user_id, coalesce(l.title, ''),
			coalesce(string_agg(i.content, ' ' ORDER BY i.is_completed, i.position), '')
		FROM lists l
		LEFT JOIN list_items i ON i.list_id = l.id
		WHERE NOT l.is_archived
		GROUP BY l.id
		UNION ALL
		SELECT 'note'::text, n.id, n.user_id, coalesce(n.title, ''), coalesce(n.content, '')
		FROM notes n
		WHERE NOT n.is_archived
	`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var kind, body string
		if err := rows.Scan(&kind, &r.ID, &r.Owner, &r.Title, &body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = Kind(kind)
		r.Text = collection.PlainText(body)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
