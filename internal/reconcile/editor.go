package reconcile

import (
	"context"
	"reflect"

	"notekeep/api/internal/collection"
	"notekeep/api/internal/ordering"
	"notekeep/api/internal/store"
)

// EditorView is what clients see of the open record: the buffered copy and
// whether the remote copy moved underneath it.
type EditorView struct {
	Kind          collection.Kind      `json:"kind"`
	List          *store.ListWithItems `json:"list,omitempty"`
	Note          *store.Note          `json:"note,omitempty"`
	FocusID       string               `json:"focus_id,omitempty"`
	RemoteChanged bool                 `json:"remote_changed"`
	RemoteDeleted bool                 `json:"remote_deleted"`
}

// editor holds two snapshots of one record. Local edits touch only the
// buffer; reloads touch only the remote copy.
type editor interface {
	kind() collection.Kind
	recordID() string
	setTitle(title string)
	setPinned(pinned bool)
	setSortOrder(order float64)
	rebase(cache *collection.Store)
	save(ctx context.Context, actions Actions, ownerID string) error
	markDeleted()
	apply(cache *collection.Store)
	view() EditorView
}

type remoteState struct {
	changed bool
	deleted bool
}

func (r *remoteState) track(prev, next any, found bool) {
	if !found {
		r.deleted = true
		return
	}
	r.deleted = false
	if !reflect.DeepEqual(prev, next) {
		r.changed = true
	}
}

// ListEditor buffers edits to one list. Every item mutation goes through
// the ordering package so positions stay contiguous per partition.
type ListEditor struct {
	buffer  store.ListWithItems
	remote  store.ListWithItems
	state   remoteState
	focusID string
	blank   ordering.Blank
}

func newListEditor(list store.ListWithItems, blank ordering.Blank) *ListEditor {
	remote := list.Clone()
	buffer := list.Clone()
	buffer.Items = ordering.Normalize(buffer.Items)
	for i := range buffer.Items {
		buffer.Items[i].ListID = buffer.ID
	}
	return &ListEditor{buffer: buffer, remote: remote, blank: blank}
}

func (e *ListEditor) kind() collection.Kind { return collection.KindList }
func (e *ListEditor) recordID() string      { return e.buffer.ID }

func (e *ListEditor) setTitle(title string) {
	e.buffer.Title = &title
}

func (e *ListEditor) setPinned(pinned bool) {
	e.buffer.IsPinned = &pinned
}

func (e *ListEditor) setSortOrder(order float64) {
	e.buffer.SortOrder = &order
}

func (e *ListEditor) rebase(cache *collection.Store) {
	next, ok := cache.List(e.buffer.ID)
	e.state.track(e.remote, next, ok)
	if ok {
		e.remote = next
	}
}

// save writes the buffer back. A record deleted by another writer is not
// recreated; its buffer is dropped.
func (e *ListEditor) save(ctx context.Context, actions Actions, ownerID string) error {
	if e.state.deleted {
		return nil
	}
	return actions.SaveList(ctx, ownerID, e.buffer.Clone())
}

func (e *ListEditor) markDeleted() { e.state.deleted = true }

func (e *ListEditor) apply(cache *collection.Store) {
	if e.state.deleted {
		return
	}
	cache.PutList(e.buffer)
}

func (e *ListEditor) view() EditorView {
	list := e.buffer.Clone()
	return EditorView{
		Kind:          collection.KindList,
		List:          &list,
		FocusID:       e.focusID,
		RemoteChanged: e.state.changed,
		RemoteDeleted: e.state.deleted,
	}
}

// Buffer returns a copy of the buffered list.
func (e *ListEditor) Buffer() store.ListWithItems {
	return e.buffer.Clone()
}

func (e *ListEditor) has(id string) bool {
	for _, item := range e.buffer.Items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func (e *ListEditor) replace(items []store.Item, focusID string) {
	e.buffer.Items = items
	e.focusID = focusID
}

// AddItem inserts an item holding content, after afterID or at the end of
// the partition selected by completed.
func (e *ListEditor) AddItem(content, afterID string, completed bool) (store.Item, error) {
	if afterID != "" && !e.has(afterID) {
		return store.Item{}, ErrUnknownItem
	}
	items, created := ordering.Insert(e.buffer.Items, afterID, completed)
	created.ListID = e.buffer.ID
	created.Content = content
	for i := range items {
		if items[i].ID == created.ID {
			items[i] = created
		}
	}
	e.replace(items, created.ID)
	return created, nil
}

func (e *ListEditor) SetItemContent(id, content string) error {
	for i := range e.buffer.Items {
		if e.buffer.Items[i].ID == id {
			e.buffer.Items[i].Content = content
			return nil
		}
	}
	return ErrUnknownItem
}

// ToggleItem flips completion and reindexes both partitions straight away.
func (e *ListEditor) ToggleItem(id string) error {
	if !e.has(id) {
		return ErrUnknownItem
	}
	e.replace(ordering.Normalize(ordering.Toggle(e.buffer.Items, id)), e.focusID)
	return nil
}

func (e *ListEditor) DeleteItem(id string) error {
	if !e.has(id) {
		return ErrUnknownItem
	}
	focus := e.focusID
	if focus == id {
		focus = ""
	}
	e.replace(ordering.Delete(e.buffer.Items, id), focus)
	return nil
}

// ReorderItems moves fromID onto toID's slot. Both must sit in the same
// partition; a cross-partition request leaves the buffer unchanged.
func (e *ListEditor) ReorderItems(fromID, toID string) error {
	if !e.has(fromID) || !e.has(toID) {
		return ErrUnknownItem
	}
	active, completed := ordering.Partition(e.buffer.Items)
	switch {
	case containsID(active, fromID) && containsID(active, toID):
		active = ordering.Reorder(active, fromID, toID)
	case containsID(completed, fromID) && containsID(completed, toID):
		completed = ordering.Reorder(completed, fromID, toID)
	default:
		return nil
	}
	e.replace(append(active, completed...), e.focusID)
	return nil
}

func containsID(items []store.Item, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// Split inserts an empty item after id and focuses it.
func (e *ListEditor) Split(id string) (string, error) {
	items, focus, ok := ordering.SplitOnEnter(e.buffer.Items, id)
	if !ok {
		return "", ErrUnknownItem
	}
	for i := range items {
		if items[i].ID == focus {
			items[i].ListID = e.buffer.ID
		}
	}
	e.replace(items, focus)
	return focus, nil
}

// Merge removes an empty item and focuses its previous sibling.
func (e *ListEditor) Merge(id string) (string, error) {
	if !e.has(id) {
		return "", ErrUnknownItem
	}
	items, focus, ok := ordering.MergeOnBackspace(e.buffer.Items, id, e.blank)
	if !ok {
		return "", ErrMergeRefused
	}
	e.replace(items, focus)
	return focus, nil
}

type NoteEditor struct {
	buffer store.Note
	remote store.Note
	state  remoteState
}

func newNoteEditor(note store.Note) *NoteEditor {
	return &NoteEditor{buffer: note.Clone(), remote: note.Clone()}
}

func (e *NoteEditor) kind() collection.Kind { return collection.KindNote }
func (e *NoteEditor) recordID() string      { return e.buffer.ID }

func (e *NoteEditor) setTitle(title string) {
	e.buffer.Title = &title
}

func (e *NoteEditor) setPinned(pinned bool) {
	e.buffer.IsPinned = &pinned
}

func (e *NoteEditor) setSortOrder(order float64) {
	e.buffer.SortOrder = &order
}

func (e *NoteEditor) SetContent(content string) {
	e.buffer.Content = &content
}

func (e *NoteEditor) Buffer() store.Note {
	return e.buffer.Clone()
}

func (e *NoteEditor) rebase(cache *collection.Store) {
	next, ok := cache.Note(e.buffer.ID)
	e.state.track(e.remote, next, ok)
	if ok {
		e.remote = next
	}
}

func (e *NoteEditor) save(ctx context.Context, actions Actions, ownerID string) error {
	if e.state.deleted {
		return nil
	}
	return actions.SaveNote(ctx, ownerID, e.buffer.Clone())
}

func (e *NoteEditor) markDeleted() { e.state.deleted = true }

func (e *NoteEditor) apply(cache *collection.Store) {
	if e.state.deleted {
		return
	}
	cache.PutNote(e.buffer)
}

func (e *NoteEditor) view() EditorView {
	note := e.buffer.Clone()
	return EditorView{
		Kind:          collection.KindNote,
		Note:          &note,
		RemoteChanged: e.state.changed,
		RemoteDeleted: e.state.deleted,
	}
}
