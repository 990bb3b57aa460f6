package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"notekeep/api/internal/auth"
	"notekeep/api/internal/authpw"
	"notekeep/api/internal/collection"
	"notekeep/api/internal/reconcile"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"email":         session.Email,
		})
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Everything below needs a signed-in user.
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api"))
	switch {
	case len(parts) == 2 && parts[0] == "session" && parts[1] == "logout" && r.Method == http.MethodPost:
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case len(parts) == 1 && parts[0] == "collections" && r.Method == http.MethodGet:
		s.handleCollections(w, r, session)
		return

	case len(parts) == 1 && parts[0] == "events" && r.Method == http.MethodGet:
		s.handleEvents(w, r, session)
		return

	case len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), session, r.URL.Query().Get("q"), limit))
		return

	case len(parts) >= 1 && (parts[0] == "lists" || parts[0] == "notes"):
		s.handleRecords(w, r, session, kindFromPath(parts[0]), parts[1:])
		return

	case len(parts) >= 1 && parts[0] == "editor":
		s.handleEditor(w, r, session, parts[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) workspace(w http.ResponseWriter, r *http.Request, session Session) (*reconcile.Workspace, bool) {
	ws, err := s.service.Workspace(r.Context(), session)
	if err != nil {
		writeMappedError(w, err)
		return nil, false
	}
	return ws, true
}

func (s *HTTPServer) handleCollections(w http.ResponseWriter, r *http.Request, session Session) {
	option, err := collection.ParseSort(r.URL.Query().Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SORT", err.Error(), nil)
		return
	}
	ws, ok := s.workspace(w, r, session)
	if !ok {
		return
	}
	grid, err := ws.Grid(option)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

// handleRecords serves /api/lists/... and /api/notes/...
func (s *HTTPServer) handleRecords(w http.ResponseWriter, r *http.Request, session Session, kind collection.Kind, parts []string) {
	ws, ok := s.workspace(w, r, session)
	if !ok {
		return
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var (
			view reconcile.EditorView
			err  error
		)
		if kind == collection.KindList {
			view, err = ws.CreateList(r.Context())
		} else {
			view, err = ws.CreateNote(r.Context())
		}
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)

	case len(parts) == 1 && parts[0] == "order" && r.Method == http.MethodPut:
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := ws.ReorderGrid(kind, body.IDs); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := ws.Delete(r.Context(), kind, parts[0]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "open" && r.Method == http.MethodPost:
		view, err := ws.Open(r.Context(), kind, parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(parts) == 2 && parts[1] == "archive" && r.Method == http.MethodPost:
		if err := ws.Archive(r.Context(), kind, parts[0]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "pin" && r.Method == http.MethodPut:
		pinned, err := ws.TogglePin(r.Context(), kind, parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": parts[0], "is_pinned": pinned})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleEditor serves /api/editor/... against the caller's open record.
func (s *HTTPServer) handleEditor(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ws, ok := s.workspace(w, r, session)
	if !ok {
		return
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		respondView(w)(ws.Editor())

	case len(parts) == 1 && parts[0] == "close" && r.Method == http.MethodPost:
		view, err := ws.Close(r.Context())
		if err != nil {
			status, code, message, _ := mapError(err)
			if errors.Is(err, reconcile.ErrNoEditor) || errors.Is(err, reconcile.ErrStopped) {
				writeError(w, status, code, message, nil)
				return
			}
			// The close went through; only the write failed.
			writeError(w, status, code, message, map[string]any{"editor": view})
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(parts) == 1 && parts[0] == "title" && r.Method == http.MethodPut:
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respondView(w)(ws.SetTitle(body.Title))

	case len(parts) == 1 && parts[0] == "content" && r.Method == http.MethodPut:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respondView(w)(ws.EditNote(func(ed *reconcile.NoteEditor) error {
			ed.SetContent(body.Content)
			return nil
		}))

	case len(parts) == 1 && parts[0] == "items" && r.Method == http.MethodPost:
		var body struct {
			Content   string `json:"content"`
			AfterID   string `json:"afterId"`
			Completed bool   `json:"completed"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respondView(w)(ws.EditList(func(ed *reconcile.ListEditor) error {
			_, err := ed.AddItem(body.Content, body.AfterID, body.Completed)
			return err
		}))

	case len(parts) == 2 && parts[0] == "items" && parts[1] == "reorder" && r.Method == http.MethodPost:
		var body struct {
			FromID string `json:"fromId"`
			ToID   string `json:"toId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respondView(w)(ws.EditList(func(ed *reconcile.ListEditor) error {
			return ed.ReorderItems(body.FromID, body.ToID)
		}))

	case len(parts) == 2 && parts[0] == "items" && r.Method == http.MethodPut:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respondView(w)(ws.EditList(func(ed *reconcile.ListEditor) error {
			return ed.SetItemContent(parts[1], body.Content)
		}))

	case len(parts) == 2 && parts[0] == "items" && r.Method == http.MethodDelete:
		respondView(w)(ws.EditList(func(ed *reconcile.ListEditor) error {
			return ed.DeleteItem(parts[1])
		}))

	case len(parts) == 3 && parts[0] == "items" && r.Method == http.MethodPost:
		itemID, action := parts[1], parts[2]
		var apply func(*reconcile.ListEditor) error
		switch action {
		case "toggle":
			apply = func(ed *reconcile.ListEditor) error { return ed.ToggleItem(itemID) }
		case "split":
			apply = func(ed *reconcile.ListEditor) error {
				_, err := ed.Split(itemID)
				return err
			}
		case "merge":
			apply = func(ed *reconcile.ListEditor) error {
				_, err := ed.Merge(itemID)
				return err
			}
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		respondView(w)(ws.EditList(apply))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func respondView(w http.ResponseWriter) func(reconcile.EditorView, error) {
	return func(view reconcile.EditorView, err error) {
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func kindFromPath(segment string) collection.Kind {
	if segment == "lists" {
		return collection.KindList
	}
	return collection.KindNote
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" && r.URL.Path == "/api/events" {
		// EventSource cannot set headers.
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	session.ClientID = clientID(r)
	return session, true
}

// clientID reads the per-tab id. EventSource cannot set headers, so the
// query parameter serves the event stream.
func clientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("client_id"))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Client-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
