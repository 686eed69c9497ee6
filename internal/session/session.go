// Package session holds the per-login state of a portal user: the live
// subscriptions opened on their behalf and the last page they navigated to.
// Everything a session owns is released when it is closed at logout.
package session

import (
	"context"
	"sync"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/metrics"
)

const DefaultPath = "/Home"

type Session struct {
	UID      string
	ClientID string
	OpenedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	lastPath string
	subs     map[uint64]string
	nextSub  uint64
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Subscribe derives the context for one live feed. The feed stops when ctx
// is done, when release is called or when the session closes, whichever
// comes first.
func (s *Session) Subscribe(ctx context.Context, feed string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return nil, nil, apperrors.NewValidationError("session is closed")
	}

	subCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = feed
	metrics.ActiveSubscriptions.WithLabelValues(feed).Inc()

	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			cancel()
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			metrics.ActiveSubscriptions.WithLabelValues(feed).Dec()
		})
	}
	context.AfterFunc(subCtx, release)
	return subCtx, release, nil
}

// Subscriptions reports how many feeds are currently live.
func (s *Session) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Session) SetLastPath(path string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	s.lastPath = path
	s.mu.Unlock()
}

// LastPath is where the user was last, or DefaultPath on a fresh session.
func (s *Session) LastPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPath == "" {
		return DefaultPath
	}
	return s.lastPath
}

func (s *Session) close() {
	s.cancel()
}

// Manager tracks the open sessions, one per user.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   logger.Logger
	now      func() time.Time
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   log.WithFields(map[string]interface{}{"component": "session"}),
		now:      time.Now,
	}
}

// Open starts a session at login. A session already open for uid is closed
// first, so a user never holds feeds from a previous login.
func (m *Manager) Open(uid, clientID string) (*Session, error) {
	if uid == "" {
		return nil, apperrors.NewValidationError("user id is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		UID:      uid,
		ClientID: clientID,
		OpenedAt: m.now(),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[uint64]string),
	}

	m.mu.Lock()
	prev := m.sessions[uid]
	m.sessions[uid] = s
	m.mu.Unlock()

	if prev != nil {
		prev.close()
		m.logger.Debug("replaced open session", map[string]interface{}{"uid": uid})
	}
	m.logger.Info("session opened", map[string]interface{}{"uid": uid, "clientId": clientID})
	return s, nil
}

// Get returns the open session of uid.
func (m *Manager) Get(uid string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	m.mu.Unlock()
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("session", uid)
	}
	return s, nil
}

// Close ends the session at logout, stopping every feed it owns. Closing a
// session that is not open is a no-op.
func (m *Manager) Close(uid string) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	delete(m.sessions, uid)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.close()
	m.logger.Info("session closed", map[string]interface{}{"uid": uid})
}

// CloseAll ends every session, used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}
