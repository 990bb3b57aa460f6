package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"notekeep/api/internal/auth"
	"notekeep/api/internal/authpw"
	"notekeep/api/internal/reconcile"
	"notekeep/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, reconcile.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, store.ErrNotAuthenticated):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil
	case errors.Is(err, reconcile.ErrNoEditor):
		return http.StatusConflict, "NO_EDITOR", "No record is open", nil
	case errors.Is(err, reconcile.ErrWrongKind):
		return http.StatusConflict, "WRONG_KIND", "The open record is a different kind", nil
	case errors.Is(err, reconcile.ErrUnknownItem):
		return http.StatusNotFound, "UNKNOWN_ITEM", "Item not found in open list", nil
	case errors.Is(err, reconcile.ErrMergeRefused):
		return http.StatusUnprocessableEntity, "MERGE_REFUSED", "Item cannot be merged", nil
	case errors.Is(err, reconcile.ErrForeignClient):
		return http.StatusForbidden, "FOREIGN_CLIENT", "Client id belongs to another user", nil
	case errors.Is(err, reconcile.ErrStopped):
		return http.StatusServiceUnavailable, "WORKSPACE_STOPPED", "Workspace is shutting down", nil
	}

	var persistErr *store.PersistenceError
	if errors.As(err, &persistErr) {
		return http.StatusBadGateway, "PERSISTENCE_FAILED", "Could not reach storage", map[string]any{
			"op":         persistErr.Op,
			"collection": persistErr.Collection,
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
