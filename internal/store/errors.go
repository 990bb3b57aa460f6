package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotAuthenticated is returned by create operations invoked without an
// owner.
var ErrNotAuthenticated = errors.New("not authenticated")

// PersistenceError wraps a failed read or write against the backing store.
type PersistenceError struct {
	Op         string
	Collection string
	Code       string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Collection, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func persistenceError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var existing *PersistenceError
	if errors.As(err, &existing) {
		return err
	}
	pe := &PersistenceError{Op: op, Collection: collection, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		pe.Code = pgErr.Code
	}
	return pe
}
