package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash)
		VALUES ($1, LOWER($2), $3, $4)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateList(ctx context.Context, ownerID string) (List, error) {
	if ownerID == "" {
		return List{}, ErrNotAuthenticated
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lists (id, user_id, title, position)
		VALUES ($1, $2, '', 0)
		RETURNING `+listColumns, uuid.NewString(), ownerID)
	list, err := scanList(row)
	if err != nil {
		return List{}, persistenceError("create", TableLists, err)
	}
	return list, nil
}

func (s *PostgresStore) GetList(ctx context.Context, ownerID, listID string) (ListWithItems, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listColumns+` FROM lists WHERE id=$1 AND user_id=$2`, listID, ownerID)
	list, err := scanList(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ListWithItems{}, err
		}
		return ListWithItems{}, persistenceError("read", TableLists, err)
	}
	items, err := s.itemsFor(ctx, []string{list.ID})
	if err != nil {
		return ListWithItems{}, err
	}
	out := ListWithItems{List: list, Items: items[list.ID]}
	if out.Items == nil {
		out.Items = []Item{}
	}
	return out, nil
}

// ReadLists returns the owner's non-archived lists with their items nested.
func (s *PostgresStore) ReadLists(ctx context.Context, ownerID string) ([]ListWithItems, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listColumns+`
		FROM lists
		WHERE user_id=$1 AND is_archived = FALSE
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, persistenceError("read", TableLists, err)
	}
	defer rows.Close()

	lists := make([]ListWithItems, 0)
	ids := make([]string, 0)
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, persistenceError("read", TableLists, fmt.Errorf("scan list: %w", err))
		}
		lists = append(lists, ListWithItems{List: list})
		ids = append(ids, list.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("read", TableLists, fmt.Errorf("iterate lists: %w", err))
	}
	if len(ids) == 0 {
		return lists, nil
	}

	items, err := s.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range lists {
		lists[i].Items = items[lists[i].ID]
		if lists[i].Items == nil {
			lists[i].Items = []Item{}
		}
	}
	return lists, nil
}

func (s *PostgresStore) itemsFor(ctx context.Context, listIDs []string) (map[string][]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, list_id, content, is_completed, position, created_at, updated_at
		FROM list_items
		WHERE list_id = ANY($1)
		ORDER BY list_id, is_completed, position
	`, listIDs)
	if err != nil {
		return nil, persistenceError("read", TableListItems, err)
	}
	defer rows.Close()

	out := make(map[string][]Item, len(listIDs))
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ListID, &item.Content, &item.IsCompleted, &item.Position, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, persistenceError("read", TableListItems, fmt.Errorf("scan item: %w", err))
		}
		out[item.ListID] = append(out[item.ListID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("read", TableListItems, fmt.Errorf("iterate items: %w", err))
	}
	return out, nil
}

func (s *PostgresStore) UpdateList(ctx context.Context, ownerID, listID string, patch ListPatch) error {
	var set setClause
	if patch.Title != nil {
		set.add("title", *patch.Title)
	}
	if patch.Position != nil {
		set.add("position", *patch.Position)
	}
	if patch.IsArchived != nil {
		set.add("is_archived", *patch.IsArchived)
	}
	if patch.IsPinned != nil {
		set.add("is_pinned", *patch.IsPinned)
	}
	if patch.SortOrder != nil {
		set.add("sort_order", *patch.SortOrder)
	}
	if patch.Title != nil {
		set.raw("updated_at=NOW()")
	}
	return s.update(ctx, TableLists, ownerID, listID, set)
}

func (s *PostgresStore) DeleteList(ctx context.Context, ownerID, listID string) error {
	return s.deleteOwned(ctx, TableLists, ownerID, listID)
}

func (s *PostgresStore) ListItemIDs(ctx context.Context, listID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM list_items WHERE list_id=$1`, listID)
	if err != nil {
		return nil, persistenceError("read", TableListItems, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistenceError("read", TableListItems, fmt.Errorf("scan item id: %w", err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("read", TableListItems, fmt.Errorf("iterate item ids: %w", err))
	}
	return ids, nil
}

func (s *PostgresStore) DeleteItems(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM list_items WHERE id = ANY($1)`, itemIDs); err != nil {
		return persistenceError("delete", TableListItems, err)
	}
	return nil
}

// UpsertItems inserts or updates every item keyed by id inside one
// transaction.
func (s *PostgresStore) UpsertItems(ctx context.Context, listID string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("upsert", TableListItems, fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO list_items (id, list_id, content, is_completed, position)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			list_id=EXCLUDED.list_id,
			content=EXCLUDED.content,
			is_completed=EXCLUDED.is_completed,
			position=EXCLUDED.position,
			updated_at=NOW()
	`)
	if err != nil {
		return persistenceError("upsert", TableListItems, fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, item.ID, listID, item.Content, item.IsCompleted, item.Position); err != nil {
			return persistenceError("upsert", TableListItems, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistenceError("upsert", TableListItems, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *PostgresStore) CreateNote(ctx context.Context, ownerID string) (Note, error) {
	if ownerID == "" {
		return Note{}, ErrNotAuthenticated
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO notes (id, user_id, title, content, position)
		VALUES ($1, $2, '', '', 0)
		RETURNING `+noteColumns, uuid.NewString(), ownerID)
	note, err := scanNote(row)
	if err != nil {
		return Note{}, persistenceError("create", TableNotes, err)
	}
	return note, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, ownerID, noteID string) (Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=$1 AND user_id=$2`, noteID, ownerID)
	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Note{}, err
		}
		return Note{}, persistenceError("read", TableNotes, err)
	}
	return note, nil
}

func (s *PostgresStore) ReadNotes(ctx context.Context, ownerID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE user_id=$1 AND is_archived = FALSE
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, persistenceError("read", TableNotes, err)
	}
	defer rows.Close()

	notes := make([]Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, persistenceError("read", TableNotes, fmt.Errorf("scan note: %w", err))
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("read", TableNotes, fmt.Errorf("iterate notes: %w", err))
	}
	return notes, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, ownerID, noteID string, patch NotePatch) error {
	var set setClause
	if patch.Title != nil {
		set.add("title", *patch.Title)
	}
	if patch.Content != nil {
		set.add("content", *patch.Content)
	}
	if patch.Position != nil {
		set.add("position", *patch.Position)
	}
	if patch.IsArchived != nil {
		set.add("is_archived", *patch.IsArchived)
	}
	if patch.IsPinned != nil {
		set.add("is_pinned", *patch.IsPinned)
	}
	if patch.SortOrder != nil {
		set.add("sort_order", *patch.SortOrder)
	}
	if patch.Title != nil || patch.Content != nil {
		set.raw("updated_at=NOW()")
	}
	return s.update(ctx, TableNotes, ownerID, noteID, set)
}

func (s *PostgresStore) DeleteNote(ctx context.Context, ownerID, noteID string) error {
	return s.deleteOwned(ctx, TableNotes, ownerID, noteID)
}

func (s *PostgresStore) update(ctx context.Context, table, ownerID, id string, set setClause) error {
	if set.empty() {
		return nil
	}
	args := append(set.args, id, ownerID)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id=$%d AND user_id=$%d`,
		table, strings.Join(set.cols, ", "), len(args)-1, len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistenceError("update", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistenceError("update", table, fmt.Errorf("rows: %w", err))
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) deleteOwned(ctx context.Context, table, ownerID, id string) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND user_id=$2`, table), id, ownerID)
	if err != nil {
		return persistenceError("delete", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistenceError("delete", table, fmt.Errorf("rows: %w", err))
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const listColumns = `id, user_id, title, position, is_archived, is_pinned, sort_order, created_at, updated_at`

const noteColumns = `id, user_id, title, content, position, is_archived, is_pinned, sort_order, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanList(row rowScanner) (List, error) {
	var (
		list      List
		title     sql.NullString
		pinned    sql.NullBool
		sortOrder sql.NullFloat64
	)
	if err := row.Scan(&list.ID, &list.UserID, &title, &list.Position, &list.IsArchived, &pinned, &sortOrder, &list.CreatedAt, &list.UpdatedAt); err != nil {
		return List{}, err
	}
	list.Title = nullString(title)
	list.IsPinned = nullBool(pinned)
	list.SortOrder = nullFloat(sortOrder)
	return list, nil
}

func scanNote(row rowScanner) (Note, error) {
	var (
		note      Note
		title     sql.NullString
		content   sql.NullString
		pinned    sql.NullBool
		sortOrder sql.NullFloat64
	)
	if err := row.Scan(&note.ID, &note.UserID, &title, &content, &note.Position, &note.IsArchived, &pinned, &sortOrder, &note.CreatedAt, &note.UpdatedAt); err != nil {
		return Note{}, err
	}
	note.Title = nullString(title)
	note.Content = nullString(content)
	note.IsPinned = nullBool(pinned)
	note.SortOrder = nullFloat(sortOrder)
	return note, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

type setClause struct {
	cols []string
	args []any
}

func (c *setClause) add(column string, value any) {
	c.args = append(c.args, value)
	c.cols = append(c.cols, fmt.Sprintf("%s=$%d", column, len(c.args)))
}

func (c *setClause) raw(expr string) {
	c.cols = append(c.cols, expr)
}

func (c setClause) empty() bool {
	return len(c.cols) == 0
}
