package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps every collection in process memory. It implements the
// same operations as PostgresStore and is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[string]User
	sessions map[string]memorySession
	lists    map[string]List
	items    map[string]Item
	notes    map[string]Note
}

var errDuplicateEmail = errors.New("email already registered")

type memorySession struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		users:    map[string]User{},
		sessions: map[string]memorySession{},
		lists:    map[string]List{},
		items:    map[string]Item{},
		notes:    map[string]Note{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(user.Email)
	for _, existing := range s.users {
		if existing.Email == email {
			return &PersistenceError{Op: "create", Collection: "users", Code: "23505", Err: errDuplicateEmail}
		}
	}
	user.Email = email
	user.CreatedAt = s.now()
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(email)
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tokenHash] = memorySession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[tokenHash]; ok {
		session.revoked = true
		s.sessions[tokenHash] = session
	}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tokenHash]
	if !ok || session.revoked || !session.expiresAt.After(s.now()) {
		return User{}, sql.ErrNoRows
	}
	user, ok := s.users[session.userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *MemoryStore) CreateList(_ context.Context, ownerID string) (List, error) {
	if ownerID == "" {
		return List{}, ErrNotAuthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	title := ""
	list := List{ID: uuid.NewString(), UserID: ownerID, Title: &title, CreatedAt: now, UpdatedAt: now}
	s.lists[list.ID] = list
	return ListWithItems{List: list}.Clone().List, nil
}

func (s *MemoryStore) GetList(_ context.Context, ownerID, listID string) (ListWithItems, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[listID]
	if !ok || list.UserID != ownerID {
		return ListWithItems{}, sql.ErrNoRows
	}
	return s.withItemsLocked(list), nil
}

func (s *MemoryStore) ReadLists(_ context.Context, ownerID string) ([]ListWithItems, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ListWithItems, 0)
	for _, list := range s.lists {
		if list.UserID != ownerID || list.IsArchived {
			continue
		}
		out = append(out, s.withItemsLocked(list))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) withItemsLocked(list List) ListWithItems {
	out := ListWithItems{List: list, Items: []Item{}}
	for _, item := range s.items {
		if item.ListID == list.ID {
			out.Items = append(out.Items, item)
		}
	}
	sort.Slice(out.Items, func(i, j int) bool {
		a, b := out.Items[i], out.Items[j]
		if a.IsCompleted != b.IsCompleted {
			return !a.IsCompleted
		}
		return a.Position < b.Position
	})
	return out.Clone()
}

func (s *MemoryStore) UpdateList(_ context.Context, ownerID, listID string, patch ListPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[listID]
	if !ok || list.UserID != ownerID {
		return sql.ErrNoRows
	}
	if patch.Title != nil {
		list.Title = cloneString(patch.Title)
		list.UpdatedAt = s.now()
	}
	if patch.Position != nil {
		list.Position = *patch.Position
	}
	if patch.IsArchived != nil {
		list.IsArchived = *patch.IsArchived
	}
	if patch.IsPinned != nil {
		list.IsPinned = cloneBool(patch.IsPinned)
	}
	if patch.SortOrder != nil {
		list.SortOrder = cloneFloat(patch.SortOrder)
	}
	s.lists[listID] = list
	return nil
}

func (s *MemoryStore) DeleteList(_ context.Context, ownerID, listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[listID]
	if !ok || list.UserID != ownerID {
		return sql.ErrNoRows
	}
	delete(s.lists, listID)
	for id, item := range s.items {
		if item.ListID == listID {
			delete(s.items, id)
		}
	}
	return nil
}

func (s *MemoryStore) ListItemIDs(_ context.Context, listID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0)
	for id, item := range s.items {
		if item.ListID == listID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) DeleteItems(_ context.Context, itemIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range itemIDs {
		delete(s.items, id)
	}
	return nil
}

func (s *MemoryStore) UpsertItems(_ context.Context, listID string, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[listID]; !ok {
		return &PersistenceError{Op: "upsert", Collection: TableListItems, Code: "23503", Err: sql.ErrNoRows}
	}
	now := s.now()
	for _, item := range items {
		existing, ok := s.items[item.ID]
		item.ListID = listID
		if ok {
			item.CreatedAt = existing.CreatedAt
		} else {
			item.CreatedAt = now
		}
		item.UpdatedAt = now
		s.items[item.ID] = item
	}
	return nil
}

func (s *MemoryStore) CreateNote(_ context.Context, ownerID string) (Note, error) {
	if ownerID == "" {
		return Note{}, ErrNotAuthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	title, content := "", ""
	note := Note{ID: uuid.NewString(), UserID: ownerID, Title: &title, Content: &content, CreatedAt: now, UpdatedAt: now}
	s.notes[note.ID] = note
	return note.Clone(), nil
}

func (s *MemoryStore) GetNote(_ context.Context, ownerID, noteID string) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[noteID]
	if !ok || note.UserID != ownerID {
		return Note{}, sql.ErrNoRows
	}
	return note.Clone(), nil
}

func (s *MemoryStore) ReadNotes(_ context.Context, ownerID string) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Note, 0)
	for _, note := range s.notes {
		if note.UserID != ownerID || note.IsArchived {
			continue
		}
		out = append(out, note.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateNote(_ context.Context, ownerID, noteID string, patch NotePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[noteID]
	if !ok || note.UserID != ownerID {
		return sql.ErrNoRows
	}
	if patch.Title != nil {
		note.Title = cloneString(patch.Title)
	}
	if patch.Content != nil {
		note.Content = cloneString(patch.Content)
	}
	if patch.Title != nil || patch.Content != nil {
		note.UpdatedAt = s.now()
	}
	if patch.Position != nil {
		note.Position = *patch.Position
	}
	if patch.IsArchived != nil {
		note.IsArchived = *patch.IsArchived
	}
	if patch.IsPinned != nil {
		note.IsPinned = cloneBool(patch.IsPinned)
	}
	if patch.SortOrder != nil {
		note.SortOrder = cloneFloat(patch.SortOrder)
	}
	s.notes[noteID] = note
	return nil
}

func (s *MemoryStore) DeleteNote(_ context.Context, ownerID, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[noteID]
	if !ok || note.UserID != ownerID {
		return sql.ErrNoRows
	}
	delete(s.notes, noteID)
	return nil
}
