package advisor

import (
	"context"
	"sync"

	"github.com/zhouzirui/global-compliance/backend/internal/logging"
)

// Manager holds at most one live session. Starting a new one first completes
// teardown of the previous one so devices are never acquired twice.
type Manager struct {
	starting sync.Mutex // serializes Start; Stop never takes it

	mu      sync.Mutex
	opts    Options
	current *Session
	cancel  context.CancelFunc
}

func NewManager(opts Options) *Manager {
	return &Manager{opts: opts}
}

// Start stops any running session and starts a fresh one. The new session is
// visible to Stop while it is still connecting, so a Stop cancels a pending dial.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	m.starting.Lock()
	defer m.starting.Unlock()

	startCtx, cancel := context.WithCancel(ctx)
	session := NewSession(m.opts)

	m.mu.Lock()
	prev, prevCancel := m.current, m.cancel
	m.current, m.cancel = session, cancel
	m.mu.Unlock()

	if prev != nil {
		prevCancel()
		if err := prev.Stop(); err != nil {
			logging.Warnw("previous advisor session did not release cleanly", "session.id", prev.ID(), "error", err)
		}
	}

	if err := session.Start(startCtx); err != nil {
		m.mu.Lock()
		if m.current == session {
			m.current, m.cancel = nil, nil
		}
		m.mu.Unlock()
		cancel()
		return nil, err
	}
	return session, nil
}

// Stop ends the current session, if any, including one that is still connecting.
func (m *Manager) Stop() error {
	m.mu.Lock()
	current, cancel := m.current, m.cancel
	m.current, m.cancel = nil, nil
	m.mu.Unlock()

	if current == nil {
		return nil
	}
	cancel()
	return current.Stop()
}

// Current returns the running or connecting session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
