package reconcile

import "errors"

var (
	ErrNoEditor     = errors.New("no record is open")
	ErrWrongKind    = errors.New("open record is a different kind")
	ErrUnknownItem  = errors.New("item not found in open list")
	ErrNotFound     = errors.New("record not found")
	ErrStopped      = errors.New("workspace stopped")
	ErrMergeRefused = errors.New("item cannot be merged")

	ErrForeignClient = errors.New("client belongs to another user")
)
