package store

import "time"

// Collection names as seen by the sync channel and the search index.
const (
	TableLists     = "lists"
	TableListItems = "list_items"
	TableNotes     = "notes"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// List is a checklist owned by a single user. IsPinned and SortOrder are
// nullable in storage; use Pinned and Order to read them.
type List struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      *string   `json:"title"`
	Position   int       `json:"position"`
	IsArchived bool      `json:"is_archived"`
	IsPinned   *bool     `json:"is_pinned,omitempty"`
	SortOrder  *float64  `json:"sort_order,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Item struct {
	ID          string    `json:"id"`
	ListID      string    `json:"list_id"`
	Content     string    `json:"content"`
	IsCompleted bool      `json:"is_completed"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ListWithItems struct {
	List
	Items []Item `json:"list_items"`
}

type Note struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Position   int       `json:"position"`
	IsArchived bool      `json:"is_archived"`
	IsPinned   *bool     `json:"is_pinned,omitempty"`
	SortOrder  *float64  `json:"sort_order,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListPatch carries the fields of a partial list update; nil fields are left
// untouched.
type ListPatch struct {
	Title      *string
	Position   *int
	IsArchived *bool
	IsPinned   *bool
	SortOrder  *float64
}

type NotePatch struct {
	Title      *string
	Content    *string
	Position   *int
	IsArchived *bool
	IsPinned   *bool
	SortOrder  *float64
}

// SortUpdate is one entry of a grid reorder batch.
type SortUpdate struct {
	ID        string  `json:"id"`
	SortOrder float64 `json:"sort_order"`
}

func (l List) Pinned() bool {
	return l.IsPinned != nil && *l.IsPinned
}

func (l List) Order() float64 {
	if l.SortOrder == nil {
		return 0
	}
	return *l.SortOrder
}

func (l List) TitleText() string {
	if l.Title == nil {
		return ""
	}
	return *l.Title
}

func (n Note) Pinned() bool {
	return n.IsPinned != nil && *n.IsPinned
}

func (n Note) Order() float64 {
	if n.SortOrder == nil {
		return 0
	}
	return *n.SortOrder
}

func (n Note) TitleText() string {
	if n.Title == nil {
		return ""
	}
	return *n.Title
}

func (n Note) ContentText() string {
	if n.Content == nil {
		return ""
	}
	return *n.Content
}

// Clone returns a copy whose item slice and pointer fields do not alias l.
func (l ListWithItems) Clone() ListWithItems {
	out := l
	out.Title = cloneString(l.Title)
	out.IsPinned = cloneBool(l.IsPinned)
	out.SortOrder = cloneFloat(l.SortOrder)
	out.Items = make([]Item, len(l.Items))
	copy(out.Items, l.Items)
	return out
}

func (n Note) Clone() Note {
	out := n
	out.Title = cloneString(n.Title)
	out.Content = cloneString(n.Content)
	out.IsPinned = cloneBool(n.IsPinned)
	out.SortOrder = cloneFloat(n.SortOrder)
	return out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
