package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"notekeep/api/internal/auth"
	"notekeep/api/internal/authpw"
	"notekeep/api/internal/collection"
	"notekeep/api/internal/config"
	"notekeep/api/internal/realtime"
	"notekeep/api/internal/reconcile"
	"notekeep/api/internal/search"
	"notekeep/api/internal/session"
	"notekeep/api/internal/store"
	"notekeep/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
	// ClientID names one browser tab or device. It defaults to the access
	// token id, so separate sign-ins never share a workspace.
	ClientID string
}

// workspaceKey scopes a client id to its user.
func (s Session) workspaceKey() string {
	client := s.ClientID
	if client == "" {
		client = s.JTI
	}
	return s.UserID + "/" + client
}

// DataStore is the persistence gateway. PostgresStore and MemoryStore both
// satisfy it.
type DataStore interface {
	Ping(context.Context) error
	refreshStore

	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)

	CreateList(context.Context, string) (store.List, error)
	ReadLists(context.Context, string) ([]store.ListWithItems, error)
	UpdateList(context.Context, string, string, store.ListPatch) error
	DeleteList(context.Context, string, string) error
	ListItemIDs(context.Context, string) ([]string, error)
	DeleteItems(context.Context, []string) error
	UpsertItems(context.Context, string, []store.Item) error

	CreateNote(context.Context, string) (store.Note, error)
	ReadNotes(context.Context, string) ([]store.Note, error)
	UpdateNote(context.Context, string, string, store.NotePatch) error
	DeleteNote(context.Context, string, string) error
}

// refreshStore keeps refresh sessions. The data store serves when Redis is
// not configured.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

// orderWriters bounds concurrent sort_order writes per reorder.
const orderWriters = 8

type Service struct {
	cfg        config.Config
	store      DataStore
	sessions   refreshStore
	channel    realtime.Channel
	search     *search.Service
	passwords  *authpw.Service
	workspaces *reconcile.Manager
	now        func() time.Time
	closeOnce  sync.Once
}

// Deps carries the optional collaborators of a Service. Zero values fall
// back to in-process implementations.
type Deps struct {
	Sessions refreshStore
	Channel  realtime.Channel
	Search   *search.Service
}

func New(cfg config.Config, dataStore DataStore, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  deps.Sessions,
		channel:   deps.Channel,
		search:    deps.Search,
		passwords: authpw.NewService(dataStore),
		now:       time.Now,
	}
	if s.sessions == nil {
		s.sessions = dataStore
	}
	if s.channel == nil {
		s.channel = realtime.NewHub()
	}
	s.workspaces = reconcile.NewManager(s, s.channel, cfg.WorkspaceIdle)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RunSweeper retires idle workspaces until ctx is done.
func (s *Service) RunSweeper(ctx context.Context) {
	s.workspaces.Run(ctx, s.cfg.SweepInterval)
}

// Shutdown saves and stops every live workspace and waits for background
// index writes.
func (s *Service) Shutdown(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.workspaces.StopAll(ctx)
		s.search.Flush()
	})
}

// Workspace returns the calling client's running workspace, starting it on
// first use. Each client has its own cache and editor.
func (s *Service) Workspace(ctx context.Context, session Session) (*reconcile.Workspace, error) {
	return s.workspaces.Get(ctx, session.workspaceKey(), session.UserID)
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.passwords.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked and a new pair
// issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if isMissingSession(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	claims := auth.NewClaims(user.ID, user.DisplayName, user.Email, now, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          claims.ID,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the refresh token and retires the calling client's
// workspace, saving any open editor. Access tokens stay valid until they
// expire.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Printf("app: revoke refresh session for %s: %v", session.UserID, err)
		}
	}
	return s.workspaces.Retire(ctx, session.workspaceKey())
}

func isMissingSession(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrSessionNotFound)
}

// Search runs an owner-scoped search over lists and notes.
func (s *Service) Search(ctx context.Context, session Session, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{Owner: session.UserID, Text: text, Limit: limit})
}

// The methods below are the persistence actions a workspace issues. Each
// successful write publishes a change event for the tables it touched.

func (s *Service) Load(ctx context.Context, ownerID string) ([]store.ListWithItems, []store.Note, error) {
	lists, err := s.store.ReadLists(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	notes, err := s.store.ReadNotes(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return lists, notes, nil
}

func (s *Service) CreateList(ctx context.Context, ownerID string) (store.List, error) {
	list, err := s.store.CreateList(ctx, ownerID)
	if err != nil {
		return store.List{}, err
	}
	s.publish(ctx, ownerID, store.TableLists, realtime.OpInsert, list.ID)
	s.search.Index(search.ListRecord(store.ListWithItems{List: list}))
	return list, nil
}

func (s *Service) CreateNote(ctx context.Context, ownerID string) (store.Note, error) {
	note, err := s.store.CreateNote(ctx, ownerID)
	if err != nil {
		return store.Note{}, err
	}
	s.publish(ctx, ownerID, store.TableNotes, realtime.OpInsert, note.ID)
	s.search.Index(search.NoteRecord(note))
	return note, nil
}

// SaveList writes list metadata, then replaces the persisted items with the
// buffered ones.
func (s *Service) SaveList(ctx context.Context, ownerID string, list store.ListWithItems) error {
	if err := reconcile.SaveList(ctx, s.store, ownerID, list); err != nil {
		return err
	}
	s.publish(ctx, ownerID, store.TableLists, realtime.OpUpdate, list.ID)
	s.publish(ctx, ownerID, store.TableListItems, realtime.OpUpdate, list.ID)
	list.UserID = ownerID
	s.search.Index(search.ListRecord(list))
	return nil
}

func (s *Service) SaveNote(ctx context.Context, ownerID string, note store.Note) error {
	if err := reconcile.SaveNote(ctx, s.store, ownerID, note); err != nil {
		return err
	}
	s.publish(ctx, ownerID, store.TableNotes, realtime.OpUpdate, note.ID)
	note.UserID = ownerID
	s.search.Index(search.NoteRecord(note))
	return nil
}

func (s *Service) SetPinned(ctx context.Context, ownerID string, kind collection.Kind, id string, pinned bool) error {
	switch kind {
	case collection.KindList:
		if err := s.store.UpdateList(ctx, ownerID, id, store.ListPatch{IsPinned: &pinned}); err != nil {
			return err
		}
	case collection.KindNote:
		if err := s.store.UpdateNote(ctx, ownerID, id, store.NotePatch{IsPinned: &pinned}); err != nil {
			return err
		}
	default:
		return errUnknownKind(kind)
	}
	s.publish(ctx, ownerID, tableFor(kind), realtime.OpUpdate, id)
	return nil
}

func (s *Service) Archive(ctx context.Context, ownerID string, kind collection.Kind, id string) error {
	archived := true
	switch kind {
	case collection.KindList:
		if err := s.store.UpdateList(ctx, ownerID, id, store.ListPatch{IsArchived: &archived}); err != nil {
			return err
		}
	case collection.KindNote:
		if err := s.store.UpdateNote(ctx, ownerID, id, store.NotePatch{IsArchived: &archived}); err != nil {
			return err
		}
	default:
		return errUnknownKind(kind)
	}
	s.publish(ctx, ownerID, tableFor(kind), realtime.OpUpdate, id)
	s.search.Remove(id)
	return nil
}

func (s *Service) Delete(ctx context.Context, ownerID string, kind collection.Kind, id string) error {
	switch kind {
	case collection.KindList:
		if err := s.store.DeleteList(ctx, ownerID, id); err != nil {
			return err
		}
		s.publish(ctx, ownerID, store.TableListItems, realtime.OpDelete, id)
	case collection.KindNote:
		if err := s.store.DeleteNote(ctx, ownerID, id); err != nil {
			return err
		}
	default:
		return errUnknownKind(kind)
	}
	s.publish(ctx, ownerID, tableFor(kind), realtime.OpDelete, id)
	s.search.Remove(id)
	return nil
}

// UpdateOrder writes one sort_order per record concurrently. Every write is
// attempted; failures are joined.
func (s *Service) UpdateOrder(ctx context.Context, ownerID string, kind collection.Kind, updates []store.SortUpdate) error {
	if !kind.Valid() {
		return errUnknownKind(kind)
	}
	if len(updates) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(orderWriters)
	for _, update := range updates {
		update := update
		g.Go(func() error {
			order := update.SortOrder
			var err error
			if kind == collection.KindList {
				err = s.store.UpdateList(ctx, ownerID, update.ID, store.ListPatch{SortOrder: &order})
			} else {
				err = s.store.UpdateNote(ctx, ownerID, update.ID, store.NotePatch{SortOrder: &order})
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s %s: %w", kind, update.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) < len(updates) {
		s.publish(ctx, ownerID, tableFor(kind), realtime.OpUpdate, "")
	}
	return errors.Join(errs...)
}

func (s *Service) publish(ctx context.Context, ownerID, table string, op realtime.Op, recordID string) {
	event := realtime.Event{Table: table, Op: op, Owner: ownerID, RecordID: recordID}
	if err := s.channel.Publish(ctx, event); err != nil {
		log.Printf("app: publish %s %s for %s: %v", table, op, ownerID, err)
	}
}

func tableFor(kind collection.Kind) string {
	if kind == collection.KindList {
		return store.TableLists
	}
	return store.TableNotes
}

func errUnknownKind(kind collection.Kind) error {
	return domainError(http.StatusBadRequest, "INVALID_KIND", fmt.Sprintf("unknown record kind %q", kind), nil)
}
