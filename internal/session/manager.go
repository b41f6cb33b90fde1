package session

import (
	"sync"
	"time"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
	"github.com/kaundiverse/fear-investigator/internal/types"
)

// Prompts supplies the texts the manager seeds and steers with.
type Prompts interface {
	Persona() string
	Opener() string
	Steering(phase Phase) string
}

// Manager holds every active session, keyed by user id.
type Manager struct {
	prompts       Prompts
	concludeAfter int
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session table.
func NewManager(prompts Prompts, concludeAfter int) *Manager {
	if concludeAfter <= 0 {
		concludeAfter = DefaultConcludeAfter
	}
	return &Manager{
		prompts:       prompts,
		concludeAfter: concludeAfter,
		now:           time.Now,
		sessions:      make(map[string]*Session),
	}
}

// Start creates a fresh session seeded with the persona preamble and the
// opening line, discarding any previous session of the user.
func (m *Manager) Start(userID string) Session {
	now := m.now()
	s := &Session{
		UserID: userID,
		Turns: []types.Turn{
			types.SystemTurn(m.prompts.Persona()),
			types.AssistantTurn(m.prompts.Opener()),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	_, replaced := m.sessions[userID]
	m.sessions[userID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	MetricInc("session", "start")
	MetricSet("session", "active", int64(count))
	L_debug("session: started", "user", userID, "replaced", replaced)
	return s.clone()
}

// AppendUser appends a user turn. Fails with *NoSessionError when the user
// has no session.
func (m *Manager) AppendUser(userID, text string) (Session, error) {
	return m.append(userID, types.UserTurn(text))
}

// AppendAssistant appends an assistant turn. Fails with *NoSessionError when
// the session was terminated or replaced meanwhile.
func (m *Manager) AppendAssistant(userID, text string) error {
	_, err := m.append(userID, types.AssistantTurn(text))
	return err
}

func (m *Manager) append(userID string, turn types.Turn) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, &NoSessionError{UserID: userID}
	}
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = m.now()
	return s.clone(), nil
}

// ComputePhase derives the phase from the session's user-turn count.
func (m *Manager) ComputePhase(s Session) Phase {
	return PhaseFor(s.UserTurns(), m.concludeAfter)
}

// BuildModelInput returns the session's turns followed by one system turn
// with the phase's steering instruction, last so it carries the most weight.
func (m *Manager) BuildModelInput(s Session, phase Phase) []types.Turn {
	out := make([]types.Turn, 0, len(s.Turns)+1)
	out = append(out, s.Turns...)
	return append(out, types.SystemTurn(m.prompts.Steering(phase)))
}

// Terminate removes the user's session. Safe when none exists.
func (m *Manager) Terminate(userID string) {
	m.mu.Lock()
	_, ok := m.sessions[userID]
	delete(m.sessions, userID)
	count := len(m.sessions)
	m.mu.Unlock()

	if ok {
		MetricInc("session", "terminate")
		MetricSet("session", "active", int64(count))
		L_debug("session: terminated", "user", userID)
	}
}

// Get returns a copy of the user's session.
func (m *Manager) Get(userID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Exists reports whether the user has a session.
func (m *Manager) Exists(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[userID]
	return ok
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than idle and returns how many
// were removed.
func (m *Manager) Sweep(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	removed := 0
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	MetricSet("session", "active", int64(count))
	if removed > 0 {
		MetricAdd("session", "evicted", int64(removed))
		L_info("session: evicted idle sessions", "removed", removed, "remaining", count, "idle", idle)
	}
	return removed
}
