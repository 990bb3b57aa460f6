package reconcile

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"notekeep/api/internal/realtime"
)

// Manager hands out one started Workspace per client and stops the ones
// left idle. A client is one browser session of an owner; every client of
// the same owner has its own cache and editor and listens to the same
// owner's change events.
type Manager struct {
	actions Actions
	channel realtime.Channel
	idle    time.Duration
	now     func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewManager(actions Actions, channel realtime.Channel, idle time.Duration) *Manager {
	return &Manager{
		actions:    actions,
		channel:    channel,
		idle:       idle,
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
}

// Get returns the workspace registered under key, starting one for owner if
// needed. A key already held by a different owner is rejected.
func (m *Manager) Get(ctx context.Context, key, owner string) (*Workspace, error) {
	for {
		m.mu.Lock()
		ws, ok := m.workspaces[key]
		if !ok {
			ws = NewWorkspace(owner, m.actions, m.channel)
			ws.now = m.now
			m.workspaces[key] = ws
		}
		m.mu.Unlock()
		if ws.Owner() != owner {
			return nil, ErrForeignClient
		}

		err := ws.Start(ctx)
		if err == nil {
			return ws, nil
		}
		m.forget(key, ws)
		if !errors.Is(err, ErrStopped) {
			return nil, err
		}
	}
}

// Peek returns the workspace under key without starting one.
func (m *Manager) Peek(key string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[key]
	return ws, ok
}

func (m *Manager) forget(key string, ws *Workspace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workspaces[key] == ws {
		delete(m.workspaces, key)
	}
}

// Sweep saves and stops workspaces idle for longer than the configured
// timeout. It returns how many were stopped.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	var idle []*Workspace
	for key, ws := range m.workspaces {
		if ws.IdleSince().Before(cutoff) {
			idle = append(idle, ws)
			delete(m.workspaces, key)
		}
	}
	m.mu.Unlock()

	for _, ws := range idle {
		_ = m.retire(ctx, ws)
	}
	return len(idle)
}

// Retire saves and stops the workspace under key if one is running. The
// save error is returned; the workspace stops regardless.
func (m *Manager) Retire(ctx context.Context, key string) error {
	m.mu.Lock()
	ws, ok := m.workspaces[key]
	if ok {
		delete(m.workspaces, key)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.retire(ctx, ws)
}

func (m *Manager) retire(ctx context.Context, ws *Workspace) error {
	defer ws.Stop()
	if _, err := ws.Close(ctx); err != nil && !errors.Is(err, ErrNoEditor) && !errors.Is(err, ErrStopped) {
		log.Printf("reconcile: save on evict for %s failed: %v", ws.Owner(), err)
		return err
	}
	return nil
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				log.Printf("reconcile: stopped %d idle workspaces", n)
			}
		}
	}
}

// StopAll saves open editors and stops every workspace.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Workspace, 0, len(m.workspaces))
	for key, ws := range m.workspaces {
		all = append(all, ws)
		delete(m.workspaces, key)
	}
	m.mu.Unlock()

	for _, ws := range all {
		_ = m.retire(ctx, ws)
	}
}
