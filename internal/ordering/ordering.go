// Package ordering keeps a list's items positioned. Active and completed
// items form two partitions, and within each partition positions run
// 0..n-1 with no gaps or duplicates.
//
// Every function is pure: it returns a new slice and never mutates its
// input.
package ordering

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"notekeep/api/internal/store"
)

// NewID generates identities for items created locally.
var NewID = uuid.NewString

// Partition splits items by completion flag, each side sorted by position.
func Partition(items []store.Item) (active, completed []store.Item) {
	active = make([]store.Item, 0, len(items))
	completed = make([]store.Item, 0)
	for _, item := range items {
		if item.IsCompleted {
			completed = append(completed, item)
		} else {
			active = append(active, item)
		}
	}
	byPosition(active)
	byPosition(completed)
	return active, completed
}

func byPosition(items []store.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Position < items[j].Position
	})
}

// Reindex sets position to the array index for one partition.
func Reindex(partition []store.Item) []store.Item {
	out := make([]store.Item, len(partition))
	copy(out, partition)
	for i := range out {
		out[i].Position = i
	}
	return out
}

// Normalize reindexes both partitions and returns active items followed by
// completed items.
func Normalize(items []store.Item) []store.Item {
	active, completed := Partition(items)
	return join(Reindex(active), Reindex(completed))
}

func join(active, completed []store.Item) []store.Item {
	out := make([]store.Item, 0, len(active)+len(completed))
	out = append(out, active...)
	return append(out, completed...)
}

func indexOf(items []store.Item, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// Reorder moves fromID to toID's index within one partition, then
// reindexes. Moving an item onto itself, or naming an unknown id, returns
// the partition unchanged.
func Reorder(partition []store.Item, fromID, toID string) []store.Item {
	out := make([]store.Item, len(partition))
	copy(out, partition)
	if fromID == toID {
		return out
	}
	from, to := indexOf(out, fromID), indexOf(out, toID)
	if from < 0 || to < 0 {
		return out
	}
	moved := out[from]
	out = append(out[:from], out[from+1:]...)
	out = append(out[:to], append([]store.Item{moved}, out[to:]...)...)
	return Reindex(out)
}

// Toggle flips the completion flag of id. The item keeps its old position
// until the next Reindex, so it may briefly share a number with an item in
// its new partition.
func Toggle(items []store.Item, id string) []store.Item {
	out := make([]store.Item, len(items))
	copy(out, items)
	if i := indexOf(out, id); i >= 0 {
		out[i].IsCompleted = !out[i].IsCompleted
	}
	return out
}

// Insert adds an empty item. With afterID set it lands directly after that
// item in the item's own partition; otherwise it is appended to the
// partition selected by completed. Only the receiving partition is
// reindexed.
func Insert(items []store.Item, afterID string, completed bool) ([]store.Item, store.Item) {
	if afterID != "" {
		if i := indexOf(items, afterID); i >= 0 {
			completed = items[i].IsCompleted
		} else {
			afterID = ""
		}
	}
	active, done := Partition(items)
	target := &active
	if completed {
		target = &done
	}

	created := store.Item{ID: NewID(), IsCompleted: completed}
	if len(items) > 0 {
		created.ListID = items[0].ListID
	}

	at := len(*target)
	if afterID != "" {
		at = indexOf(*target, afterID) + 1
	}
	next := make([]store.Item, 0, len(*target)+1)
	next = append(next, (*target)[:at]...)
	next = append(next, created)
	next = append(next, (*target)[at:]...)
	*target = Reindex(next)

	created.Position = at
	return join(active, done), created
}

// Delete removes id and reindexes the partition it belonged to.
func Delete(items []store.Item, id string) []store.Item {
	i := indexOf(items, id)
	if i < 0 {
		out := make([]store.Item, len(items))
		copy(out, items)
		return out
	}
	completed := items[i].IsCompleted
	active, done := Partition(items)
	if completed {
		done = Reindex(removeID(done, id))
	} else {
		active = Reindex(removeID(active, id))
	}
	return join(active, done)
}

func removeID(items []store.Item, id string) []store.Item {
	out := make([]store.Item, 0, len(items))
	for _, item := range items {
		if item.ID != id {
			out = append(out, item)
		}
	}
	return out
}

// SplitOnEnter inserts an empty item right after id and returns the new
// item's id for focus. ok is false when id is unknown.
func SplitOnEnter(items []store.Item, id string) (out []store.Item, focusID string, ok bool) {
	if indexOf(items, id) < 0 {
		return append([]store.Item(nil), items...), "", false
	}
	out, created := Insert(items, id, false)
	return out, created.ID, true
}

// Blank reports whether an item's content counts as empty for merging.
type Blank func(content string) bool

// TrimBlank treats whitespace-only content as empty.
func TrimBlank(content string) bool {
	return strings.TrimSpace(content) == ""
}

// MergeOnBackspace deletes an empty item and returns the id that should take
// focus: the previous sibling, or the following one when id was first. It
// refuses, returning items unchanged and ok false, when id is unknown, its
// content is not blank, or it is the last item of its partition.
func MergeOnBackspace(items []store.Item, id string, blank Blank) (out []store.Item, focusID string, ok bool) {
	unchanged := append([]store.Item(nil), items...)
	i := indexOf(items, id)
	if i < 0 {
		return unchanged, "", false
	}
	if blank == nil {
		blank = TrimBlank
	}
	if !blank(items[i].Content) {
		return unchanged, "", false
	}

	active, done := Partition(items)
	partition := active
	if items[i].IsCompleted {
		partition = done
	}
	if len(partition) <= 1 {
		return unchanged, "", false
	}

	at := indexOf(partition, id)
	if at > 0 {
		focusID = partition[at-1].ID
	} else {
		focusID = partition[1].ID
	}
	return Delete(items, id), focusID, true
}
