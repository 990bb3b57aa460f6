package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"notekeep/api/internal/reconcile"
	"notekeep/api/internal/store"
)

type apiClient struct {
	t        *testing.T
	server   *HTTPServer
	token    string
	userID   string
	clientID string
}

func (c *apiClient) do(method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}
	rr := httptest.NewRecorder()
	c.server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	}
	return rr, payload
}

func (c *apiClient) view(method, path string, body any) reconcile.EditorView {
	c.t.Helper()
	rr, _ := c.do(method, path, body)
	if rr.Code != http.StatusOK && rr.Code != http.StatusCreated {
		c.t.Fatalf("%s %s: status %d body=%s", method, path, rr.Code, rr.Body.String())
	}
	var view reconcile.EditorView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		c.t.Fatalf("decode editor view: %v", err)
	}
	return view
}

func newSignedInClient(t *testing.T, fs *fakeStore) *apiClient {
	t.Helper()
	svc, _ := newTestService(t, fs, Deps{})
	client := &apiClient{t: t, server: NewHTTPServer(svc, "*")}
	rr, payload := client.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"email":       "ada@example.com",
		"password":    "correct horse",
		"displayName": "Ada",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: status %d body=%s", rr.Code, rr.Body.String())
	}
	client.token, _ = payload["accessToken"].(string)
	client.userID, _ = payload["userId"].(string)
	if client.token == "" {
		t.Fatalf("expected access token, got %v", payload)
	}
	return client
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), Deps{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantReady  string
	}{
		{name: "database up", wantStatus: http.StatusOK, wantReady: "ready"},
		{name: "database down", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantReady: "not_ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeStore()
			fs.pingFn = func(context.Context) error { return tt.pingErr }
			svc, _ := newTestService(t, fs, Deps{})
			server := NewHTTPServer(svc, "*")

			req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			var response map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if response["status"] != tt.wantReady {
				t.Fatalf("expected status=%s, got %v", tt.wantReady, response["status"])
			}
		})
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), Deps{})
	client := &apiClient{t: t, server: NewHTTPServer(svc, "*")}

	for _, path := range []string{"/api/collections", "/api/editor", "/api/search?q=x"} {
		rr, payload := client.do(http.MethodGet, path, nil)
		if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
			t.Fatalf("%s: expected 401 UNAUTHORIZED, got %d %v", path, rr.Code, payload)
		}
	}

	client.token = "not-a-token"
	if rr, _ := client.do(http.MethodGet, "/api/collections", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}
}

func TestSignUpErrors(t *testing.T) {
	fs := newFakeStore()
	newSignedInClient(t, fs)
	svc, _ := newTestService(t, fs, Deps{})
	client := &apiClient{t: t, server: NewHTTPServer(svc, "*")}

	rr, payload := client.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"email": "ADA@example.com", "password": "another pass", "displayName": "Ada again",
	})
	if rr.Code != http.StatusConflict || payload["code"] != "EMAIL_EXISTS" {
		t.Fatalf("expected 409 EMAIL_EXISTS, got %d %v", rr.Code, payload)
	}

	rr, payload = client.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"email": "bob@example.com", "password": "short", "displayName": "Bob",
	})
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_INPUT" {
		t.Fatalf("expected 400 INVALID_INPUT, got %d %v", rr.Code, payload)
	}

	rr, payload = client.do(http.MethodPost, "/api/auth/signin", map[string]string{
		"email": "ada@example.com", "password": "wrong password",
	})
	if rr.Code != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %d %v", rr.Code, payload)
	}
}

func TestChecklistEditingFlow(t *testing.T) {
	fs := newFakeStore()
	client := newSignedInClient(t, fs)

	created := client.view(http.MethodPost, "/api/lists", nil)
	if created.List == nil || len(created.List.Items) != 0 {
		t.Fatalf("expected empty open list, got %+v", created)
	}
	listID := created.List.ID

	client.view(http.MethodPut, "/api/editor/title", map[string]string{"title": "Groceries"})
	milk := client.view(http.MethodPost, "/api/editor/items", map[string]any{"content": "milk"})
	milkID := milk.FocusID
	eggs := client.view(http.MethodPost, "/api/editor/items", map[string]any{"content": "eggs", "afterId": milkID})
	eggsID := eggs.FocusID

	toggled := client.view(http.MethodPost, "/api/editor/items/"+milkID+"/toggle", nil)
	items := toggled.List.Items
	if len(items) != 2 || items[0].ID != eggsID || items[0].Position != 0 || items[1].ID != milkID || !items[1].IsCompleted || items[1].Position != 0 {
		t.Fatalf("unexpected items after toggle: %+v", items)
	}

	// Nothing is persisted until the editor closes.
	persisted, _ := fs.ReadLists(context.Background(), created.List.UserID)
	if len(persisted) != 1 || len(persisted[0].Items) != 0 {
		t.Fatalf("expected no persisted items before close, got %+v", persisted)
	}

	client.view(http.MethodPost, "/api/editor/close", nil)
	persisted, _ = fs.ReadLists(context.Background(), created.List.UserID)
	if len(persisted) != 1 || persisted[0].TitleText() != "Groceries" || len(persisted[0].Items) != 2 {
		t.Fatalf("expected saved list, got %+v", persisted)
	}

	rr, payload := client.do(http.MethodGet, "/api/editor", nil)
	if rr.Code != http.StatusConflict || payload["code"] != "NO_EDITOR" {
		t.Fatalf("expected 409 NO_EDITOR after close, got %d %v", rr.Code, payload)
	}

	rr, _ = client.do(http.MethodGet, "/api/collections?sort=title-asc", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("collections: %d %s", rr.Code, rr.Body.String())
	}
	var grid struct {
		Others []struct {
			ID             string `json:"id"`
			Title          string `json:"title"`
			CompletedCount int    `json:"completed_count"`
		} `json:"others"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &grid); err != nil {
		t.Fatalf("decode grid: %v", err)
	}
	if len(grid.Others) != 1 || grid.Others[0].ID != listID || grid.Others[0].Title != "Groceries" {
		t.Fatalf("unexpected grid: %s", rr.Body.String())
	}

	if rr, payload := client.do(http.MethodGet, "/api/collections?sort=sideways", nil); rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_SORT" {
		t.Fatalf("expected 400 INVALID_SORT, got %d %v", rr.Code, payload)
	}

	rr, payload = client.do(http.MethodPut, "/api/lists/"+listID+"/pin", nil)
	if rr.Code != http.StatusOK || payload["is_pinned"] != true {
		t.Fatalf("expected pinned, got %d %v", rr.Code, payload)
	}

	rr, _ = client.do(http.MethodPost, "/api/lists/"+listID+"/archive", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("archive: %d %s", rr.Code, rr.Body.String())
	}
	rr, payload = client.do(http.MethodPost, "/api/lists/"+listID+"/open", nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected archived list to be gone, got %d %v", rr.Code, payload)
	}
}

func TestEachSignInEditsItsOwnRecord(t *testing.T) {
	fs := newFakeStore()
	tab1 := newSignedInClient(t, fs)
	tab2 := &apiClient{t: t, server: tab1.server}
	rr, payload := tab2.do(http.MethodPost, "/api/auth/signin", map[string]string{
		"email": "ada@example.com", "password": "correct horse",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("second sign-in: %d %s", rr.Code, rr.Body.String())
	}
	tab2.token, _ = payload["accessToken"].(string)

	a := tab1.view(http.MethodPost, "/api/notes", nil)
	b := tab2.view(http.MethodPost, "/api/notes", nil)

	edited := tab1.view(http.MethodPut, "/api/editor/title", map[string]string{"title": "typed in tab1"})
	if edited.Note == nil || edited.Note.ID != a.Note.ID {
		t.Fatalf("tab1 edit landed on %+v, want note %s", edited.Note, a.Note.ID)
	}
	other := tab2.view(http.MethodGet, "/api/editor", nil)
	if other.Note == nil || other.Note.ID != b.Note.ID || other.Note.TitleText() != "" {
		t.Fatalf("tab2 editor disturbed: %+v", other.Note)
	}

	// Tabs sharing one token are told apart by their client id.
	tab3 := &apiClient{t: t, server: tab1.server, token: tab1.token, clientID: "tab-3"}
	if rr, payload := tab3.do(http.MethodGet, "/api/editor", nil); rr.Code != http.StatusConflict || payload["code"] != "NO_EDITOR" {
		t.Fatalf("expected fresh client without editor, got %d %v", rr.Code, payload)
	}
	if still := tab1.view(http.MethodGet, "/api/editor", nil); still.Note == nil || still.Note.ID != a.Note.ID {
		t.Fatalf("tab1 editor moved: %+v", still.Note)
	}
}

func TestEditorErrorsMapToStatusCodes(t *testing.T) {
	client := newSignedInClient(t, newFakeStore())

	client.view(http.MethodPost, "/api/notes", nil)
	rr, payload := client.do(http.MethodPost, "/api/editor/items", map[string]any{"content": "x"})
	if rr.Code != http.StatusConflict || payload["code"] != "WRONG_KIND" {
		t.Fatalf("expected 409 WRONG_KIND, got %d %v", rr.Code, payload)
	}

	note := client.view(http.MethodPut, "/api/editor/content", map[string]string{"content": "<p>hello</p>"})
	if note.Note == nil || note.Note.ContentText() != "<p>hello</p>" {
		t.Fatalf("unexpected note buffer: %+v", note)
	}

	list := client.view(http.MethodPost, "/api/lists", nil)
	only := client.view(http.MethodPost, "/api/editor/items", map[string]any{"content": ""})
	rr, payload = client.do(http.MethodPost, "/api/editor/items/"+only.FocusID+"/merge", nil)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "MERGE_REFUSED" {
		t.Fatalf("expected 422 MERGE_REFUSED, got %d %v", rr.Code, payload)
	}
	rr, payload = client.do(http.MethodPut, "/api/editor/items/nope", map[string]string{"content": "x"})
	if rr.Code != http.StatusNotFound || payload["code"] != "UNKNOWN_ITEM" {
		t.Fatalf("expected 404 UNKNOWN_ITEM, got %d %v", rr.Code, payload)
	}
	if list.List == nil {
		t.Fatal("expected list view")
	}
}

func TestCloseFailureReturnsEditorInline(t *testing.T) {
	fs := newFakeStore()
	client := newSignedInClient(t, fs)
	// Created behind the workspace's back so no change event races the
	// optimistic cache below.
	note, err := fs.CreateNote(context.Background(), client.userID)
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	client.view(http.MethodPost, "/api/notes/"+note.ID+"/open", nil)
	client.view(http.MethodPut, "/api/editor/title", map[string]string{"title": "draft"})

	fs.updateNoteFn = func(context.Context, string, string, store.NotePatch) error {
		return &store.PersistenceError{Op: "update", Collection: store.TableNotes, Err: errors.New("connection reset")}
	}
	rr, payload := client.do(http.MethodPost, "/api/editor/close", nil)
	if rr.Code != http.StatusBadGateway || payload["code"] != "PERSISTENCE_FAILED" {
		t.Fatalf("expected 502 PERSISTENCE_FAILED, got %d %v", rr.Code, payload)
	}
	details, _ := payload["details"].(map[string]any)
	if _, ok := details["editor"]; !ok {
		t.Fatalf("expected closed editor in details, got %v", payload)
	}

	// The cache kept the optimistic title.
	rr, _ = client.do(http.MethodGet, "/api/collections", nil)
	if !strings.Contains(rr.Body.String(), `"title":"draft"`) {
		t.Fatalf("expected optimistic title in grid, got %s", rr.Body.String())
	}
}

func TestReorderGridIsAccepted(t *testing.T) {
	fs := newFakeStore()
	client := newSignedInClient(t, fs)
	first := client.view(http.MethodPost, "/api/notes", nil)
	second := client.view(http.MethodPost, "/api/notes", nil)
	client.view(http.MethodPost, "/api/editor/close", nil)

	rr, _ := client.do(http.MethodPut, "/api/notes/order", map[string]any{"ids": []string{second.Note.ID, first.Note.ID}})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rr.Code, rr.Body.String())
	}

	// The write lands in the background; earlier change events may still
	// reload the cache in between, so wait for the persisted order.
	deadline := time.Now().Add(2 * time.Second)
	for {
		notes, _ := fs.ReadNotes(context.Background(), client.userID)
		orders := map[string]float64{}
		for _, n := range notes {
			orders[n.ID] = n.Order()
		}
		if len(notes) == 2 && orders[second.Note.ID] == 0 && orders[first.Note.ID] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sort order never persisted: %+v", notes)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsStreamSignalsChanges(t *testing.T) {
	fs := newFakeStore()
	client := newSignedInClient(t, fs)
	srv := httptest.NewServer(client.server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?access_token="+client.token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		if !lines.Scan() {
			t.Fatalf("stream ended: %v", lines.Err())
		}
		return lines.Text()
	}
	if line := next(); line != "event: ready" {
		t.Fatalf("expected ready event, got %q", line)
	}

	client.view(http.MethodPost, "/api/notes", nil)
	for {
		if line := next(); line == "event: refresh" {
			break
		}
	}
	if line := next(); !strings.HasPrefix(line, "data: {") || !strings.Contains(line, `"reason"`) {
		t.Fatalf("expected signal payload, got %q", line)
	}
}
