// Package realtime carries change notifications for the lists, list_items
// and notes tables between writers and open workspaces.
//
// Events say only that something changed on a table for an owner.
// Subscribers are expected to re-read state rather than trust the event.
package realtime

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Op is a bitmask of change kinds.
type Op uint8

const (
	OpInsert Op = 1 << iota
	OpUpdate
	OpDelete

	OpAll = OpInsert | OpUpdate | OpDelete
)

func (o Op) String() string {
	var parts []string
	if o&OpInsert != 0 {
		parts = append(parts, "insert")
	}
	if o&OpUpdate != 0 {
		parts = append(parts, "update")
	}
	if o&OpDelete != 0 {
		parts = append(parts, "delete")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

type Event struct {
	Table    string    `json:"table"`
	Op       Op        `json:"op"`
	Owner    string    `json:"owner"`
	RecordID string    `json:"record_id,omitempty"`
	At       time.Time `json:"at"`
}

// Channel publishes and subscribes to change events.
type Channel interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, owner string, mask Op, tables ...string) (*Subscription, error)
}

// subscriptionBuffer bounds undelivered events per subscriber. Events past
// the bound are dropped: a pending event already forces a full reload.
const subscriptionBuffer = 16

// Subscription delivers matching events on C until Unsubscribe is called.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	mask   Op
	tables map[string]struct{}
	once   sync.Once
	stop   func()
}

func newSubscription(mask Op, tables []string) *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	set := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		set[table] = struct{}{}
	}
	return &Subscription{C: ch, ch: ch, mask: mask, tables: set}
}

func (s *Subscription) matches(event Event) bool {
	if event.Op&s.mask == 0 {
		return false
	}
	if len(s.tables) == 0 {
		return true
	}
	_, ok := s.tables[event.Table]
	return ok
}

// offer hands the event to the subscriber without blocking.
func (s *Subscription) offer(event Event) bool {
	if !s.matches(event) {
		return false
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// Unsubscribe stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
