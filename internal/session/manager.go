// Package session keeps per-conversation state with TTL expiry. Turns on one
// session run one at a time in arrival order; distinct sessions never
// contend on a shared lock beyond the brief map lookup.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mathtutor-gateway/internal/metrics"
	"mathtutor-gateway/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Snapshotter mirrors sessions to an external store so they survive restarts
// and can be picked up by another replica.
type Snapshotter interface {
	Save(ctx context.Context, s model.Session, ttl time.Duration) error
	// Load returns nil, nil when no snapshot exists.
	Load(ctx context.Context, id string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
}

type Options struct {
	TTL        time.Duration
	HistoryCap int
	Now        func() time.Time
}

type entry struct {
	turn gate

	mu    sync.Mutex
	state model.Session
	dead  bool
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry

	ttl        time.Duration
	historyCap int
	now        func() time.Time
	snap       Snapshotter
	logger     zerolog.Logger
}

func NewManager(opts Options, snap Snapshotter, logger zerolog.Logger) (*Manager, error) {
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", opts.TTL)
	}
	if opts.HistoryCap <= 0 {
		return nil, fmt.Errorf("session history cap must be positive, got %d", opts.HistoryCap)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		sessions:   make(map[string]*entry),
		ttl:        opts.TTL,
		historyCap: opts.HistoryCap,
		now:        opts.Now,
		snap:       snap,
		logger:     logger.With().Str("component", "session").Logger(),
	}, nil
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) expired(s *model.Session, now time.Time) bool {
	return now.Sub(s.LastActiveAt) > m.ttl
}

// GetOrCreate returns the live session for id, creating a fresh one when id
// is empty, unknown or expired.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (model.Session, error) {
	e := m.lookupOrCreate(ctx, id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), nil
}

// Get returns the session without creating it.
func (m *Manager) Get(id string) (model.Session, error) {
	e, err := m.existing(id)
	if err != nil {
		return model.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), nil
}

// Touch resets the expiry clock of an existing session.
func (m *Manager) Touch(ctx context.Context, id string) error {
	t, err := m.beginExisting(ctx, id)
	if err != nil {
		return err
	}
	t.End(ctx)
	return nil
}

// AppendMessage adds a turn to an existing session's history.
func (m *Manager) AppendMessage(ctx context.Context, id string, turn model.Turn) error {
	t, err := m.beginExisting(ctx, id)
	if err != nil {
		return err
	}
	t.Append(turn.Role, turn.Content)
	t.End(ctx)
	return nil
}

// Begin waits for exclusive use of the session (creating it when needed) and
// returns a handle for the turn. The caller must call End.
func (m *Manager) Begin(ctx context.Context, id string) (*Turn, error) {
	for {
		e := m.lookupOrCreate(ctx, id)
		if err := e.turn.acquire(ctx); err != nil {
			return nil, fmt.Errorf("wait for session turn failed: %w", err)
		}
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			e.turn.release()
			continue
		}
		e.state.LastActiveAt = m.now()
		sid := e.state.ID
		e.mu.Unlock()
		return &Turn{m: m, e: e, id: sid}, nil
	}
}

func (m *Manager) beginExisting(ctx context.Context, id string) (*Turn, error) {
	e, err := m.existing(id)
	if err != nil {
		return nil, err
	}
	if err := e.turn.acquire(ctx); err != nil {
		return nil, fmt.Errorf("wait for session turn failed: %w", err)
	}
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		e.turn.release()
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionExpired)
	}
	e.state.LastActiveAt = m.now()
	e.mu.Unlock()
	return &Turn{m: m, e: e, id: id}, nil
}

func (m *Manager) existing(id string) (*entry, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || (m.expired(&e.state, m.now()) && !e.turn.busy()) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionExpired)
	}
	return e, nil
}

func (m *Manager) lookupOrCreate(ctx context.Context, id string) *entry {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if e, ok := m.sessions[id]; ok {
		e.mu.Lock()
		stale := !e.turn.busy() && m.expired(&e.state, m.now())
		if stale {
			e.dead = true
		}
		e.mu.Unlock()
		if !stale {
			m.mu.Unlock()
			return e
		}
		delete(m.sessions, id)
		metrics.ActiveSessions.Dec()
		m.mu.Unlock()
		m.dropSnapshot(ctx, id)
	} else {
		m.mu.Unlock()
	}

	state := m.restore(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e
	}
	e := &entry{state: state}
	m.sessions[id] = e
	metrics.ActiveSessions.Inc()
	return e
}

// restore loads a snapshot for id, or returns a fresh session.
func (m *Manager) restore(ctx context.Context, id string) model.Session {
	now := m.now()
	fresh := model.Session{ID: id, CreatedAt: now, LastActiveAt: now}
	if m.snap == nil {
		return fresh
	}
	s, err := m.snap.Load(ctx, id)
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("load session snapshot failed")
		return fresh
	}
	if s == nil || s.ID != id || m.expired(s, now) {
		return fresh
	}
	m.logger.Debug().Str("session_id", id).Msg("session restored from snapshot")
	return s.Clone()
}

func (m *Manager) dropSnapshot(ctx context.Context, id string) {
	if m.snap == nil {
		return
	}
	if err := m.snap.Delete(ctx, id); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("delete session snapshot failed")
	}
}

// Delete removes a session regardless of its expiry. A turn in flight keeps
// its handle but its state is discarded.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		e.mu.Lock()
		e.dead = true
		e.mu.Unlock()
		delete(m.sessions, id)
		metrics.ActiveSessions.Dec()
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	m.dropSnapshot(ctx, id)
	return nil
}

// ReapExpired removes sessions idle for longer than the TTL. Sessions with a
// turn in progress or queued are left alone.
func (m *Manager) ReapExpired(ctx context.Context) int {
	now := m.now()
	var reaped []string

	m.mu.Lock()
	for id, e := range m.sessions {
		e.mu.Lock()
		if !e.turn.busy() && m.expired(&e.state, now) {
			e.dead = true
			delete(m.sessions, id)
			reaped = append(reaped, id)
		}
		e.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range reaped {
		m.dropSnapshot(ctx, id)
	}
	if n := len(reaped); n > 0 {
		metrics.ActiveSessions.Sub(float64(n))
		metrics.SessionsReaped.Add(float64(n))
		m.logger.Info().Int("reaped", n).Msg("expired sessions removed")
	}
	return len(reaped)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Turn is exclusive access to one session for the duration of a request.
type Turn struct {
	m    *Manager
	e    *entry
	id   string
	once sync.Once
}

func (t *Turn) ID() string {
	return t.id
}

func (t *Turn) Session() model.Session {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	return t.e.state.Clone()
}

// Update applies fn to the session state. ID and timestamps are restored
// after fn runs.
func (t *Turn) Update(fn func(s *model.Session)) {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	id, created, active := t.e.state.ID, t.e.state.CreatedAt, t.e.state.LastActiveAt
	fn(&t.e.state)
	t.e.state.ID, t.e.state.CreatedAt, t.e.state.LastActiveAt = id, created, active
	t.e.state.MessageHistory = capHistory(t.e.state.MessageHistory, t.m.historyCap)
}

// Append adds a message, evicting the oldest ones beyond the history cap.
func (t *Turn) Append(role, content string) {
	now := t.m.now()
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	t.e.state.MessageHistory = append(t.e.state.MessageHistory, model.Turn{Role: role, Content: content, CreatedAt: now})
	t.e.state.MessageHistory = capHistory(t.e.state.MessageHistory, t.m.historyCap)
}

// End touches the session, saves its snapshot and lets the next turn run.
// Calling End more than once has no effect.
func (t *Turn) End(ctx context.Context) {
	t.once.Do(func() {
		defer t.e.turn.release()

		t.e.mu.Lock()
		t.e.state.LastActiveAt = t.m.now()
		dead := t.e.dead
		snapshot := t.e.state.Clone()
		t.e.mu.Unlock()

		if dead || t.m.snap == nil {
			return
		}
		if err := t.m.snap.Save(context.WithoutCancel(ctx), snapshot, t.m.ttl); err != nil {
			t.m.logger.Warn().Err(err).Str("session_id", t.id).Msg("save session snapshot failed")
		}
	})
}

func capHistory(history []model.Turn, limit int) []model.Turn {
	if len(history) <= limit {
		return history
	}
	trimmed := make([]model.Turn, limit)
	copy(trimmed, history[len(history)-limit:])
	return trimmed
}
