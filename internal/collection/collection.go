// Package collection holds the in-memory copy of a user's non-archived
// lists and notes and renders it as a grid of cards.
package collection

import (
	"sync"
	"time"

	"notekeep/api/internal/store"
)

type Kind string

const (
	KindList Kind = "list"
	KindNote Kind = "note"
)

func (k Kind) Valid() bool {
	return k == KindList || k == KindNote
}

// Store is replaced wholesale on every reload and patched optimistically by
// local writes in between.
type Store struct {
	mu       sync.RWMutex
	lists    []store.ListWithItems
	notes    []store.Note
	loadedAt time.Time
}

func New() *Store {
	return &Store{}
}

func (s *Store) Replace(lists []store.ListWithItems, notes []store.Note, at time.Time) {
	nextLists := make([]store.ListWithItems, 0, len(lists))
	for _, list := range lists {
		nextLists = append(nextLists, list.Clone())
	}
	nextNotes := make([]store.Note, 0, len(notes))
	for _, note := range notes {
		nextNotes = append(nextNotes, note.Clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = nextLists
	s.notes = nextNotes
	s.loadedAt = at
}

func (s *Store) Lists() []store.ListWithItems {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ListWithItems, 0, len(s.lists))
	for _, list := range s.lists {
		out = append(out, list.Clone())
	}
	return out
}

func (s *Store) Notes() []store.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Note, 0, len(s.notes))
	for _, note := range s.notes {
		out = append(out, note.Clone())
	}
	return out
}

func (s *Store) List(id string) (store.ListWithItems, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range s.lists {
		if list.ID == id {
			return list.Clone(), true
		}
	}
	return store.ListWithItems{}, false
}

func (s *Store) Note(id string) (store.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, note := range s.notes {
		if note.ID == id {
			return note.Clone(), true
		}
	}
	return store.Note{}, false
}

// PutList replaces the cached list with the same id, or appends it. An
// archived list is removed instead.
func (s *Store) PutList(list store.ListWithItems) {
	if list.IsArchived {
		s.Remove(KindList, list.ID)
		return
	}
	list = list.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lists {
		if s.lists[i].ID == list.ID {
			s.lists[i] = list
			return
		}
	}
	s.lists = append(s.lists, list)
}

func (s *Store) PutNote(note store.Note) {
	if note.IsArchived {
		s.Remove(KindNote, note.ID)
		return
	}
	note = note.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notes {
		if s.notes[i].ID == note.ID {
			s.notes[i] = note
			return
		}
	}
	s.notes = append(s.notes, note)
}

func (s *Store) Remove(kind Kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case KindList:
		for i := range s.lists {
			if s.lists[i].ID == id {
				s.lists = append(s.lists[:i], s.lists[i+1:]...)
				return
			}
		}
	case KindNote:
		for i := range s.notes {
			if s.notes[i].ID == id {
				s.notes = append(s.notes[:i], s.notes[i+1:]...)
				return
			}
		}
	}
}

// SetSortOrder assigns sort_order to cached records by their index in ids.
// Unknown ids are skipped.
func (s *Store) SetSortOrder(kind Kind, ids []string) {
	index := make(map[string]float64, len(ids))
	for i, id := range ids {
		index[id] = float64(i)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case KindList:
		for i := range s.lists {
			if order, ok := index[s.lists[i].ID]; ok {
				s.lists[i].SortOrder = &order
			}
		}
	case KindNote:
		for i := range s.notes {
			if order, ok := index[s.notes[i].ID]; ok {
				s.notes[i].SortOrder = &order
			}
		}
	}
}
