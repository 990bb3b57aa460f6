package reconcile

import (
	"errors"
	"testing"

	"notekeep/api/internal/collection"
	"notekeep/api/internal/store"
)

func openListEditor(items ...store.Item) *ListEditor {
	title := "t"
	return newListEditor(store.ListWithItems{
		List:  store.List{ID: "l1", Title: &title},
		Items: items,
	}, collection.IsBlank)
}

func contents(items []store.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Content
	}
	return out
}

func TestNewListEditorNormalizesPositions(t *testing.T) {
	e := openListEditor(
		store.Item{ID: "b", Content: "b", Position: 7},
		store.Item{ID: "a", Content: "a", Position: 3},
		store.Item{ID: "x", Content: "x", Position: 2, IsCompleted: true},
	)
	buf := e.Buffer()
	if got := contents(buf.Items); got[0] != "a" || got[1] != "b" || got[2] != "x" {
		t.Fatalf("order = %v", got)
	}
	if buf.Items[0].Position != 0 || buf.Items[1].Position != 1 || buf.Items[2].Position != 0 {
		t.Fatalf("positions not normalized: %+v", buf.Items)
	}
}

func TestReorderItemsAcrossPartitionsIsNoop(t *testing.T) {
	e := openListEditor(
		store.Item{ID: "a", Position: 0},
		store.Item{ID: "b", Position: 1},
		store.Item{ID: "x", Position: 0, IsCompleted: true},
	)
	before := e.Buffer()
	if err := e.ReorderItems("a", "x"); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	after := e.Buffer()
	for i := range before.Items {
		if before.Items[i].ID != after.Items[i].ID || before.Items[i].Position != after.Items[i].Position {
			t.Fatalf("cross-partition reorder changed buffer: %+v", after.Items)
		}
	}

	if err := e.ReorderItems("b", "a"); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if buf := e.Buffer(); buf.Items[0].ID != "b" || buf.Items[1].ID != "a" {
		t.Fatalf("reorder within partition failed: %+v", buf.Items)
	}
	if err := e.ReorderItems("nope", "a"); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}

func TestSplitAndMergeThroughEditor(t *testing.T) {
	e := openListEditor(store.Item{ID: "a", Content: "<p>milk</p>", Position: 0})

	focus, err := e.Split("a")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	buf := e.Buffer()
	if len(buf.Items) != 2 || buf.Items[1].ID != focus || buf.Items[1].ListID != "l1" {
		t.Fatalf("split result %+v", buf.Items)
	}

	if err := e.SetItemContent(focus, "<p><br></p>"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	prev, err := e.Merge(focus)
	if err != nil {
		t.Fatalf("merge of markup-empty item: %v", err)
	}
	if prev != "a" || len(e.Buffer().Items) != 1 {
		t.Fatalf("merge focus %q items %+v", prev, e.Buffer().Items)
	}

	if _, err := e.Merge("a"); !errors.Is(err, ErrMergeRefused) {
		t.Fatalf("expected refusal for non-empty sole item, got %v", err)
	}
}

func TestAddItemAfterUnknownFails(t *testing.T) {
	e := openListEditor()
	if _, err := e.AddItem("x", "missing", false); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
	item, err := e.AddItem("first", "", false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if item.ListID != "l1" || item.Position != 0 || item.Content != "first" {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestDeleteItemClearsFocus(t *testing.T) {
	e := openListEditor(store.Item{ID: "a", Content: "a"})
	item, _ := e.AddItem("b", "a", false)
	if err := e.DeleteItem(item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if e.view().FocusID != "" {
		t.Fatal("focus should not point at a deleted item")
	}
	if err := e.DeleteItem(item.ID); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}
