package ordering

import (
	"fmt"
	"reflect"
	"testing"

	"notekeep/api/internal/store"
)

func item(id, content string, completed bool, pos int) store.Item {
	return store.Item{ID: id, ListID: "l1", Content: content, IsCompleted: completed, Position: pos}
}

func ids(items []store.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func positions(items []store.Item) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.Position
	}
	return out
}

func sequentialIDs(t *testing.T) {
	t.Helper()
	n := 0
	prev := NewID
	NewID = func() string {
		n++
		return fmt.Sprintf("new-%d", n)
	}
	t.Cleanup(func() { NewID = prev })
}

func TestPartitionSortsEachSide(t *testing.T) {
	items := []store.Item{
		item("c", "", true, 1),
		item("a", "", false, 1),
		item("d", "", true, 0),
		item("b", "", false, 0),
	}
	active, completed := Partition(items)
	if got := ids(active); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("active = %v", got)
	}
	if got := ids(completed); !reflect.DeepEqual(got, []string{"d", "c"}) {
		t.Fatalf("completed = %v", got)
	}
	if items[0].ID != "c" {
		t.Fatal("Partition mutated its input")
	}
}

func TestReorder(t *testing.T) {
	abc := []store.Item{item("A", "", false, 0), item("B", "", false, 1), item("C", "", false, 2)}

	tests := []struct {
		name     string
		from, to string
		want     []string
	}{
		{name: "last to first", from: "C", to: "A", want: []string{"C", "A", "B"}},
		{name: "first to last", from: "A", to: "C", want: []string{"B", "C", "A"}},
		{name: "forward by one", from: "A", to: "B", want: []string{"B", "A", "C"}},
		{name: "onto itself", from: "B", to: "B", want: []string{"A", "B", "C"}},
		{name: "unknown source", from: "Z", to: "A", want: []string{"A", "B", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reorder(abc, tt.from, tt.to)
			if !reflect.DeepEqual(ids(got), tt.want) {
				t.Fatalf("Reorder(%s, %s) = %v, want %v", tt.from, tt.to, ids(got), tt.want)
			}
			if !reflect.DeepEqual(positions(got), []int{0, 1, 2}) {
				t.Fatalf("positions = %v", positions(got))
			}
		})
	}
	if !reflect.DeepEqual(ids(abc), []string{"A", "B", "C"}) {
		t.Fatal("Reorder mutated its input")
	}
}

func TestToggleThenNormalizeMovesItemAcrossPartitions(t *testing.T) {
	items := []store.Item{item("1", "milk", false, 0), item("2", "eggs", false, 1)}

	toggled := Toggle(items, "1")
	if !toggled[0].IsCompleted || toggled[0].Position != 0 {
		t.Fatalf("toggle should flip the flag and keep position, got %+v", toggled[0])
	}
	if toggled[1] != items[1] {
		t.Fatal("toggle touched another item")
	}

	active, completed := Partition(Normalize(toggled))
	if len(active) != 1 || active[0].Content != "eggs" || active[0].Position != 0 {
		t.Fatalf("active = %+v", active)
	}
	if len(completed) != 1 || completed[0].Content != "milk" || completed[0].Position != 0 {
		t.Fatalf("completed = %+v", completed)
	}
}

func TestToggleUnknownIDIsNoop(t *testing.T) {
	items := []store.Item{item("1", "milk", false, 0)}
	if got := Toggle(items, "x"); !reflect.DeepEqual(got, items) {
		t.Fatalf("Toggle(unknown) = %+v", got)
	}
}

func TestInsert(t *testing.T) {
	sequentialIDs(t)
	items := []store.Item{
		item("a", "", false, 0),
		item("b", "", false, 1),
		item("x", "", true, 0),
	}

	t.Run("at end of active", func(t *testing.T) {
		got, created := Insert(items, "", false)
		active, completed := Partition(got)
		if !reflect.DeepEqual(ids(active), []string{"a", "b", created.ID}) {
			t.Fatalf("active = %v", ids(active))
		}
		if created.Position != 2 || created.ListID != "l1" || created.IsCompleted {
			t.Fatalf("created = %+v", created)
		}
		if !reflect.DeepEqual(ids(completed), []string{"x"}) {
			t.Fatalf("completed partition changed: %v", ids(completed))
		}
	})

	t.Run("after an item", func(t *testing.T) {
		got, created := Insert(items, "a", false)
		active, _ := Partition(got)
		if !reflect.DeepEqual(ids(active), []string{"a", created.ID, "b"}) {
			t.Fatalf("active = %v", ids(active))
		}
		if !reflect.DeepEqual(positions(active), []int{0, 1, 2}) {
			t.Fatalf("positions = %v", positions(active))
		}
	})

	t.Run("after a completed item joins its partition", func(t *testing.T) {
		got, created := Insert(items, "x", false)
		_, completed := Partition(got)
		if !created.IsCompleted || !reflect.DeepEqual(ids(completed), []string{"x", created.ID}) {
			t.Fatalf("completed = %v, created = %+v", ids(completed), created)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		got, created := Insert(nil, "", false)
		if len(got) != 1 || got[0].ID != created.ID || created.Position != 0 {
			t.Fatalf("got %+v", got)
		}
	})
}

func TestDeleteReindexesOnlyItsPartition(t *testing.T) {
	items := []store.Item{
		item("a", "", false, 0),
		item("b", "", false, 1),
		item("c", "", false, 2),
		item("x", "", true, 5),
	}
	got := Delete(items, "a")
	active, completed := Partition(got)
	if !reflect.DeepEqual(ids(active), []string{"b", "c"}) || !reflect.DeepEqual(positions(active), []int{0, 1}) {
		t.Fatalf("active = %v %v", ids(active), positions(active))
	}
	if completed[0].Position != 5 {
		t.Fatalf("completed partition was reindexed: %+v", completed)
	}

	// Explicit deletes always succeed, even for the last item.
	if got := Delete([]store.Item{item("only", "", false, 0)}, "only"); len(got) != 0 {
		t.Fatalf("expected empty list, got %+v", got)
	}
}

func TestSplitOnEnter(t *testing.T) {
	sequentialIDs(t)
	items := []store.Item{item("a", "one", false, 0), item("b", "two", false, 1), item("c", "three", false, 2)}

	got, focus, ok := SplitOnEnter(items, "a")
	if !ok || focus != "new-1" {
		t.Fatalf("SplitOnEnter ok=%v focus=%q", ok, focus)
	}
	active, _ := Partition(got)
	if !reflect.DeepEqual(ids(active), []string{"a", "new-1", "b", "c"}) {
		t.Fatalf("active = %v", ids(active))
	}
	if active[1].Content != "" {
		t.Fatalf("new item should be empty, got %q", active[1].Content)
	}
	if active[2].Position != 2 || active[3].Position != 3 {
		t.Fatalf("following items should shift by one: %v", positions(active))
	}

	if _, _, ok := SplitOnEnter(items, "missing"); ok {
		t.Fatal("expected unknown id to be refused")
	}
}

func TestMergeOnBackspace(t *testing.T) {
	items := []store.Item{
		item("a", "one", false, 0),
		item("b", "  ", false, 1),
		item("c", "", false, 2),
		item("x", "", true, 0),
	}

	tests := []struct {
		name      string
		id        string
		wantOK    bool
		wantFocus string
	}{
		{name: "empty middle item focuses previous", id: "b", wantOK: true, wantFocus: "a"},
		{name: "empty last item", id: "c", wantOK: true, wantFocus: "b"},
		{name: "non-empty item refused", id: "a", wantOK: false},
		{name: "sole completed item refused", id: "x", wantOK: false},
		{name: "unknown refused", id: "zz", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, focus, ok := MergeOnBackspace(items, tt.id, nil)
			if ok != tt.wantOK || focus != tt.wantFocus {
				t.Fatalf("ok=%v focus=%q, want ok=%v focus=%q", ok, focus, tt.wantOK, tt.wantFocus)
			}
			if !ok && !reflect.DeepEqual(got, items) {
				t.Fatalf("refused merge changed items: %+v", got)
			}
			if ok && len(got) != len(items)-1 {
				t.Fatalf("expected one item removed, got %d", len(got))
			}
		})
	}
}

func TestMergeOnBackspaceFirstItemFocusesNext(t *testing.T) {
	items := []store.Item{item("a", "", false, 0), item("b", "two", false, 1)}
	got, focus, ok := MergeOnBackspace(items, "a", nil)
	if !ok || focus != "b" {
		t.Fatalf("ok=%v focus=%q", ok, focus)
	}
	if len(got) != 1 || got[0].Position != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestMergeOnBackspaceUsesBlankPredicate(t *testing.T) {
	items := []store.Item{item("a", "x", false, 0), item("b", "<p></p>", false, 1)}
	markupBlank := func(content string) bool { return content == "<p></p>" || TrimBlank(content) }
	if _, _, ok := MergeOnBackspace(items, "b", nil); ok {
		t.Fatal("default predicate should treat markup as content")
	}
	if _, _, ok := MergeOnBackspace(items, "b", markupBlank); !ok {
		t.Fatal("custom predicate should allow merge")
	}
}
