package collection

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"notekeep/api/internal/ordering"
	"notekeep/api/internal/store"
)

type SortOption string

const (
	SortTitleAsc    SortOption = "title-asc"
	SortTitleDesc   SortOption = "title-desc"
	SortCreatedAsc  SortOption = "created-asc"
	SortCreatedDesc SortOption = "created-desc"
	SortUpdatedAsc  SortOption = "updated-asc"
	SortUpdatedDesc SortOption = "updated-desc"
	// SortManual follows sort_order as written by grid reorders.
	SortManual SortOption = "manual"

	DefaultSort = SortUpdatedDesc
)

var sortOptions = map[SortOption]bool{
	SortTitleAsc: true, SortTitleDesc: true,
	SortCreatedAsc: true, SortCreatedDesc: true,
	SortUpdatedAsc: true, SortUpdatedDesc: true,
	SortManual: true,
}

// ParseSort maps a query value to a SortOption. Empty selects DefaultSort.
func ParseSort(raw string) (SortOption, error) {
	if raw == "" {
		return DefaultSort, nil
	}
	option := SortOption(raw)
	if !sortOptions[option] {
		return "", fmt.Errorf("unknown sort option %q", raw)
	}
	return option, nil
}

type ItemPreview struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Card struct {
	Kind           Kind          `json:"kind"`
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Pinned         bool          `json:"is_pinned"`
	SortOrder      float64       `json:"sort_order"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Preview        string        `json:"preview,omitempty"`
	Items          []ItemPreview `json:"items,omitempty"`
	CompletedCount int           `json:"completed_count,omitempty"`
}

type Grid struct {
	Sort     SortOption `json:"sort"`
	Pinned   []Card     `json:"pinned"`
	Others   []Card     `json:"others"`
	LoadedAt time.Time  `json:"loaded_at"`
}

func ListCard(list store.ListWithItems) Card {
	active, completed := ordering.Partition(list.Items)
	card := Card{
		Kind:           KindList,
		ID:             list.ID,
		Title:          list.TitleText(),
		Pinned:         list.Pinned(),
		SortOrder:      list.Order(),
		CreatedAt:      list.CreatedAt,
		UpdatedAt:      list.UpdatedAt,
		CompletedCount: len(completed),
	}
	for i, item := range active {
		if i == ListPreviewItems {
			break
		}
		card.Items = append(card.Items, ItemPreview{ID: item.ID, Text: PlainText(item.Content)})
	}
	return card
}

func NoteCard(note store.Note) Card {
	return Card{
		Kind:      KindNote,
		ID:        note.ID,
		Title:     note.TitleText(),
		Pinned:    note.Pinned(),
		SortOrder: note.Order(),
		CreatedAt: note.CreatedAt,
		UpdatedAt: note.UpdatedAt,
		Preview:   Preview(note.ContentText()),
	}
}

// Grid merges lists and notes into cards, splits pinned from the rest and
// sorts both groups by option.
func (s *Store) Grid(option SortOption) Grid {
	lists, notes := s.Lists(), s.Notes()
	s.mu.RLock()
	loadedAt := s.loadedAt
	s.mu.RUnlock()

	cards := make([]Card, 0, len(lists)+len(notes))
	for _, list := range lists {
		cards = append(cards, ListCard(list))
	}
	for _, note := range notes {
		cards = append(cards, NoteCard(note))
	}

	grid := Grid{Sort: option, Pinned: []Card{}, Others: []Card{}, LoadedAt: loadedAt}
	for _, card := range cards {
		if card.Pinned {
			grid.Pinned = append(grid.Pinned, card)
		} else {
			grid.Others = append(grid.Others, card)
		}
	}
	SortCards(grid.Pinned, option)
	SortCards(grid.Others, option)
	return grid
}

// SortCards sorts in place. Ties keep their incoming order.
func SortCards(cards []Card, option SortOption) {
	var less func(a, b Card) bool
	switch option {
	case SortTitleAsc, SortTitleDesc:
		col := collate.New(language.Und, collate.IgnoreCase)
		less = func(a, b Card) bool {
			if option == SortTitleDesc {
				a, b = b, a
			}
			return col.CompareString(a.Title, b.Title) < 0
		}
	case SortCreatedAsc:
		less = func(a, b Card) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case SortCreatedDesc:
		less = func(a, b Card) bool { return b.CreatedAt.Before(a.CreatedAt) }
	case SortUpdatedAsc:
		less = func(a, b Card) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	case SortUpdatedDesc:
		less = func(a, b Card) bool { return b.UpdatedAt.Before(a.UpdatedAt) }
	case SortManual:
		less = func(a, b Card) bool { return a.SortOrder < b.SortOrder }
	default:
		return
	}
	sort.SliceStable(cards, func(i, j int) bool { return less(cards[i], cards[j]) })
}
