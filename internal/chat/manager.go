package chat

import (
	"log/slog"
	"sync"

	"github.com/haeun-dev/suneung-tutor/internal/gateway"
)

// Manager owns one Session per subject, created lazily on first use. Sessions
// are ephemeral per process run; nothing about them is persisted.
type Manager struct {
	factory    gateway.Factory
	logger     *slog.Logger
	transcript TranscriptLogger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. transcript may be nil to disable
// transcript logging.
func NewManager(factory gateway.Factory, logger *slog.Logger, transcript TranscriptLogger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory:    factory,
		logger:     logger,
		transcript: transcript,
		sessions:   make(map[string]*Session),
	}
}

// Session returns the session for a subject, creating an uninitialized one on
// first access. Callers run Setup before sending.
func (m *Manager) Session(subjectID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[subjectID]; ok {
		return s
	}
	s := newSession(subjectID, m.factory, m.logger, m.transcript)
	m.sessions[subjectID] = s
	return s
}

// Reset disposes the session for a subject, if one exists. The next access
// creates a fresh uninitialized session.
func (m *Manager) Reset(subjectID string) {
	m.mu.Lock()
	s, ok := m.sessions[subjectID]
	delete(m.sessions, subjectID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Close disposes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
