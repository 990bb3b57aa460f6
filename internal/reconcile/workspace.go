// Package reconcile keeps one user's cached collections consistent with
// their own unsaved edits and with change notifications from other writers.
//
// A Workspace owns the collection cache, at most one open editor and a
// listener goroutine fed by the realtime channel. Any event triggers a full
// reload. A reload replaces the open editor's remote snapshot and never its
// buffer; closing the editor writes the buffer back last-write-wins.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"notekeep/api/internal/collection"
	"notekeep/api/internal/ordering"
	"notekeep/api/internal/realtime"
	"notekeep/api/internal/store"
)

// Tables a workspace listens to.
var Tables = []string{store.TableLists, store.TableListItems, store.TableNotes}

// Actions are the persistence operations a workspace issues. Implementations
// publish change events themselves.
type Actions interface {
	Load(ctx context.Context, ownerID string) ([]store.ListWithItems, []store.Note, error)
	CreateList(ctx context.Context, ownerID string) (store.List, error)
	CreateNote(ctx context.Context, ownerID string) (store.Note, error)
	SaveList(ctx context.Context, ownerID string, list store.ListWithItems) error
	SaveNote(ctx context.Context, ownerID string, note store.Note) error
	SetPinned(ctx context.Context, ownerID string, kind collection.Kind, id string, pinned bool) error
	Archive(ctx context.Context, ownerID string, kind collection.Kind, id string) error
	Delete(ctx context.Context, ownerID string, kind collection.Kind, id string) error
	UpdateOrder(ctx context.Context, ownerID string, kind collection.Kind, updates []store.SortUpdate) error
}

// Signal tells watchers the cache or editor changed.
type Signal struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// reloadTimeout bounds a listener-driven reload.
const reloadTimeout = 10 * time.Second

type Workspace struct {
	owner   string
	actions Actions
	channel realtime.Channel
	cache   *collection.Store
	blank   ordering.Blank
	now     func() time.Time

	// mu serializes every handler so the cache and editor see one
	// operation at a time.
	mu       sync.Mutex
	editor   editor
	sub      *realtime.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	stopped  bool
	lastUsed time.Time

	listener sync.WaitGroup
	pending  sync.WaitGroup

	watchMu     sync.Mutex
	watchers    map[chan Signal]struct{}
	watchClosed bool
}

func NewWorkspace(owner string, actions Actions, channel realtime.Channel) *Workspace {
	ctx, cancel := context.WithCancel(context.Background())
	return &Workspace{
		owner:    owner,
		actions:  actions,
		channel:  channel,
		cache:    collection.New(),
		blank:    collection.IsBlank,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[chan Signal]struct{}),
	}
}

func (w *Workspace) Owner() string { return w.owner }

// Start loads the collections, subscribes to change events and spawns the
// listener. Calling Start again is a no-op.
func (w *Workspace) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.started {
		return nil
	}
	if err := w.reloadLocked(ctx); err != nil {
		return err
	}
	sub, err := w.channel.Subscribe(ctx, w.owner, realtime.OpAll, Tables...)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	w.sub = sub
	w.started = true
	w.lastUsed = w.now()

	w.listener.Add(1)
	go w.listen(sub)
	return nil
}

func (w *Workspace) listen(sub *realtime.Subscription) {
	defer w.listener.Done()
	for event := range sub.C {
		ctx, cancel := context.WithTimeout(w.ctx, reloadTimeout)
		if err := w.Refresh(ctx); err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) {
			log.Printf("reconcile: reload for %s after %s on %s failed: %v", w.owner, event.Op, event.Table, err)
		}
		cancel()
	}
}

// Stop unsubscribes, waits for the listener and for outstanding
// fire-and-forget writes, and drops watchers.
func (w *Workspace) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	sub := w.sub
	w.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	w.listener.Wait()
	w.pending.Wait()
	w.cancel()

	w.watchMu.Lock()
	w.watchClosed = true
	for ch := range w.watchers {
		close(ch)
		delete(w.watchers, ch)
	}
	w.watchMu.Unlock()
}

// IdleSince reports when a handler last ran.
func (w *Workspace) IdleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsed
}

func (w *Workspace) touchLocked() error {
	if w.stopped {
		return ErrStopped
	}
	w.lastUsed = w.now()
	return nil
}

// Refresh re-reads every collection and rebases the open editor.
func (w *Workspace) Refresh(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	return w.reloadLocked(ctx)
}

func (w *Workspace) reloadLocked(ctx context.Context) error {
	lists, notes, err := w.actions.Load(ctx, w.owner)
	if err != nil {
		return err
	}
	w.cache.Replace(lists, notes, w.now())
	if w.editor != nil {
		w.editor.rebase(w.cache)
	}
	w.notify("reload")
	return nil
}

// Grid renders the cached collections.
func (w *Workspace) Grid(option collection.SortOption) (collection.Grid, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.touchLocked(); err != nil {
		return collection.Grid{}, err
	}
	return w.cache.Grid(option), nil
}

// Editor returns the open record, or ErrNoEditor.
func (w *Workspace) Editor() (EditorView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.touchLocked(); err != nil {
		return EditorView{}, err
	}
	if w.editor == nil {
		return EditorView{}, ErrNoEditor
	}
	return w.editor.view(), nil
}

// Open starts editing a cached record. An editor already open on another
// record is closed (and saved) first; if that save fails the new record is
// not opened.
func (w *Workspace) Open(ctx context.Context, kind collection.Kind, id string) (EditorView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.touchLocked(); err != nil {
		return EditorView{}, err
	}
	if w.editor != nil && w.editor.kind() == kind && w.editor.recordID() == id {
		return w.editor.view(), nil
	}
	if w.editor != nil {
		if _, err := w.closeLocked(ctx); err != nil {
			return EditorView{}, err
		}
	}
	return w.openLocked(kind, id)
}

func (w *Workspace) openLocked(kind collection.Kind, id string) (EditorView, error) {
	switch kind {
	case collection.KindList:
		list, ok := w.cache.List(id)
		if !ok {
			return EditorView{}, ErrNotFound
		}
		w.editor = newListEditor(list, w.blank)
	case collection.KindNote:
		note, ok := w.cache.Note(id)
		if !ok {
			return EditorView{}, ErrNotFound
		}
		w.editor = newNoteEditor(note)
	default:
		return EditorView{}, fmt.Errorf("unknown kind %q", kind)
	}
	w.notify("open")
	return w.editor.view(), nil
}

// Close saves the buffer, applies it to the cache whatever the outcome and
// clears the editor. A save failure is returned; nothing is rolled back. A
// record deleted by another writer is discarded instead of saved.
func (w *Workspace) Close(ctx context.Context) (EditorView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.touchLocked(); err != nil {
		return EditorView{}, err
	}
	if w.editor == nil {
		return EditorView{}, ErrNoEditor
	}
	return w.closeLocked(ctx)
}

func (w *Workspace) closeLocked(ctx context.Context) (EditorView, error) {
	ed := w.editor
	err := ed.save(ctx, w.actions, w.owner)
	if errors.Is(err, sql.ErrNoRows) {
		// Deleted before the reload reached us.
		ed.markDeleted()
		w.cache.Remove(ed.kind(), ed.recordID())
		err = nil
	}
	ed.apply(w.cache)
	view := ed.view()
	w.editor = nil
	w.notify("close")
	return view, err
}

// SetTitle edits the title of the open record.
func (w *Workspace) SetTitle(title string) (EditorView, error) {
	return w.edit(func(ed editor) error {
		ed.setTitle(title)
		return nil
	})
}

// EditList runs fn against the open list's buffer.
func (w *Workspace) EditList(fn func(*ListEditor) error) (EditorView, error) {
	return w.edit(func(ed editor) error {
		le, ok := ed.(*ListEditor)
		if !ok {
			return ErrWrongKind
		}
		return fn(le)
	})
}

// EditNote runs fn against the open note's buffer.
func (w *Workspace) EditNote(fn func(*NoteEditor) error) (EditorView, error) {
	return w.edit(func(ed editor) error {
		ne, ok := ed.(*NoteEditor)
		if !ok {
			return ErrWrongKind
		}
		return fn(ne)
	})
}

func (w *Workspace) edit(fn func(editor) error) (EditorView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.touchLocked(); err != nil {
		return EditorView{}, err
	}
	if w.editor == nil {
		return EditorView{}, ErrNoEditor
	}
	if err := fn(w.editor); err != nil {
		return w.editor.view(), err
	}
	w.notify("edit")
	return w.editor.view(), nil
}

// CreateList creates an empty list, reloads and opens it.
func (w *Workspace) CreateList(ctx context.Context) (EditorView, error) {
	return w.create(ctx, collection.KindList, func() (string, error) {
		list, err := w.actions.CreateList(ctx, w.owner)
		return list.ID, err
	})
}

// CreateNote creates an empty note, reloads and opens it.
func (w *Workspace) CreateNote(ctx context.Context) (EditorView, error) {
	return w.create(ctx, collection.KindNote, func() (string, error) {
		note, err := w.actions.CreateNote(ctx, w.owner)
		return note.ID, err
	})
}

func (w *Workspace) create(ctx context.Context, kind collection.Kind, create func() (string, error)) (EditorView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.touchLocked(); err != nil {
		return EditorView{}, err
	}
	if w.editor != nil {
		if _, err := w.closeLocked(ctx); err != nil {
			return EditorView{}, err
		}
	}
	id, err := create()
	if err != nil {
		return EditorView{}, err
	}
	if err := w.reloadLocked(ctx); err != nil {
		return EditorView{}, err
	}
	return w.openLocked(kind, id)
}

// TogglePin flips the pin flag of a record and reloads. The open editor's
// buffer follows so a later close does not revert the pin.
func (w *Workspace) TogglePin(ctx context.Context, kind collection.Kind, id string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.touchLocked(); err != nil {
		return false, err
	}
	pinned, err := w.pinnedLocked(kind, id)
	if err != nil {
		return false, err
	}
	pinned = !pinned
	if err := w.actions.SetPinned(ctx, w.owner, kind, id, pinned); err != nil {
		return false, err
	}
	if w.isOpenLocked(kind, id) {
		w.editor.setPinned(pinned)
	}
	return pinned, w.reloadLocked(ctx)
}

func (w *Workspace) pinnedLocked(kind collection.Kind, id string) (bool, error) {
	if w.isOpenLocked(kind, id) {
		return w.editor.view().pinned(), nil
	}
	switch kind {
	case collection.KindList:
		if list, ok := w.cache.List(id); ok {
			return list.Pinned(), nil
		}
	case collection.KindNote:
		if note, ok := w.cache.Note(id); ok {
			return note.Pinned(), nil
		}
	}
	return false, ErrNotFound
}

func (v EditorView) pinned() bool {
	switch {
	case v.List != nil:
		return v.List.Pinned()
	case v.Note != nil:
		return v.Note.Pinned()
	}
	return false
}

func (w *Workspace) isOpenLocked(kind collection.Kind, id string) bool {
	return w.editor != nil && w.editor.kind() == kind && w.editor.recordID() == id
}

// Archive hides a record. An editor open on it is discarded unsaved.
func (w *Workspace) Archive(ctx context.Context, kind collection.Kind, id string) error {
	return w.remove(ctx, kind, id, w.actions.Archive)
}

// Delete removes a record. An editor open on it is discarded unsaved.
func (w *Workspace) Delete(ctx context.Context, kind collection.Kind, id string) error {
	return w.remove(ctx, kind, id, w.actions.Delete)
}

func (w *Workspace) remove(ctx context.Context, kind collection.Kind, id string, action func(context.Context, string, collection.Kind, string) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.touchLocked(); err != nil {
		return err
	}
	err := action(ctx, w.owner, kind, id)
	if w.isOpenLocked(kind, id) {
		w.editor = nil
	}
	if err != nil {
		return err
	}
	w.cache.Remove(kind, id)
	return w.reloadLocked(ctx)
}

// ReorderGrid assigns sort_order by position in ids, updates the cache at
// once and writes in the background. Write failures are logged only.
func (w *Workspace) ReorderGrid(kind collection.Kind, ids []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.touchLocked(); err != nil {
		return err
	}
	updates := make([]store.SortUpdate, 0, len(ids))
	for i, id := range ids {
		updates = append(updates, store.SortUpdate{ID: id, SortOrder: float64(i)})
		if w.isOpenLocked(kind, id) {
			w.editor.setSortOrder(float64(i))
		}
	}
	w.cache.SetSortOrder(kind, ids)
	w.notify("reorder")

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		if err := w.actions.UpdateOrder(w.ctx, w.owner, kind, updates); err != nil {
			log.Printf("reconcile: %s order update for %s failed: %v", kind, w.owner, err)
		}
	}()
	return nil
}

// Watch returns a channel that receives a Signal after every change, and a
// cancel func. Signals coalesce when the receiver lags. The channel is
// closed when the workspace stops, or at once if it already has.
func (w *Workspace) Watch() (<-chan Signal, func()) {
	ch := make(chan Signal, 1)
	w.watchMu.Lock()
	if w.watchClosed {
		w.watchMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	w.watchers[ch] = struct{}{}
	w.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.watchMu.Lock()
			defer w.watchMu.Unlock()
			if _, ok := w.watchers[ch]; ok {
				delete(w.watchers, ch)
				close(ch)
			}
		})
	}
}

func (w *Workspace) notify(reason string) {
	signal := Signal{Reason: reason, At: w.now()}
	w.watchMu.Lock()
	defer w.watchMu.Unlock()
	for ch := range w.watchers {
		select {
		case ch <- signal:
		default:
		}
	}
}
