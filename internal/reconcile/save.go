package reconcile

import (
	"context"
	"fmt"

	"notekeep/api/internal/store"
)

// ListWriter is the part of the persistence gateway a list save touches.
type ListWriter interface {
	UpdateList(ctx context.Context, ownerID, listID string, patch store.ListPatch) error
	ListItemIDs(ctx context.Context, listID string) ([]string, error)
	DeleteItems(ctx context.Context, itemIDs []string) error
	UpsertItems(ctx context.Context, listID string, items []store.Item) error
}

type NoteWriter interface {
	UpdateNote(ctx context.Context, ownerID, noteID string, patch store.NotePatch) error
}

// DiffItems compares the persisted item ids with the buffered items. Ids
// missing from items are returned for deletion, in persisted order; every
// buffered item is returned for upsert.
func DiffItems(persistedIDs []string, items []store.Item) (deleteIDs []string, upserts []store.Item) {
	current := make(map[string]struct{}, len(items))
	for _, item := range items {
		current[item.ID] = struct{}{}
	}
	deleteIDs = make([]string, 0)
	for _, id := range persistedIDs {
		if _, ok := current[id]; !ok {
			deleteIDs = append(deleteIDs, id)
		}
	}
	upserts = make([]store.Item, len(items))
	copy(upserts, items)
	return deleteIDs, upserts
}

// ListPatchFor is the metadata a list save writes. Pin and sort order are
// only written when set.
func ListPatchFor(list store.List) store.ListPatch {
	title := list.TitleText()
	position := list.Position
	return store.ListPatch{
		Title:     &title,
		Position:  &position,
		IsPinned:  list.IsPinned,
		SortOrder: list.SortOrder,
	}
}

func NotePatchFor(note store.Note) store.NotePatch {
	title := note.TitleText()
	content := note.ContentText()
	position := note.Position
	return store.NotePatch{
		Title:     &title,
		Content:   &content,
		Position:  &position,
		IsPinned:  note.IsPinned,
		SortOrder: note.SortOrder,
	}
}

// SaveList overwrites the stored list with the buffered snapshot: metadata
// first, then items missing from the buffer are deleted and every buffered
// item is upserted. The first failure aborts the save.
func SaveList(ctx context.Context, w ListWriter, ownerID string, list store.ListWithItems) error {
	if err := w.UpdateList(ctx, ownerID, list.ID, ListPatchFor(list.List)); err != nil {
		return fmt.Errorf("save list metadata: %w", err)
	}

	persisted, err := w.ListItemIDs(ctx, list.ID)
	if err != nil {
		return fmt.Errorf("read persisted items: %w", err)
	}
	deleteIDs, upserts := DiffItems(persisted, list.Items)

	if len(deleteIDs) > 0 {
		if err := w.DeleteItems(ctx, deleteIDs); err != nil {
			return fmt.Errorf("delete removed items: %w", err)
		}
	}
	if len(upserts) > 0 {
		if err := w.UpsertItems(ctx, list.ID, upserts); err != nil {
			return fmt.Errorf("upsert items: %w", err)
		}
	}
	return nil
}

func SaveNote(ctx context.Context, w NoteWriter, ownerID string, note store.Note) error {
	if err := w.UpdateNote(ctx, ownerID, note.ID, NotePatchFor(note)); err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	return nil
}
