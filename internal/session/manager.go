package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds session lifecycle settings.
type Config struct {
	// InactivityWindow after which a session is swept. Default: 30m
	InactivityWindow time.Duration

	// SweepInterval between expiry sweeps. Default: 1m
	SweepInterval time.Duration

	// MaxTurns bounds how many turns RecentTurns may return when the
	// caller asks for more. Default: 20
	MaxTurns int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.InactivityWindow == 0 {
		c.InactivityWindow = 30 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = 20
	}
}

// Manager owns session lifecycle: creation, turn history, expiry and the
// per-session lock that serializes concurrent turns.
//
// Expiry is a background sweep rather than a per-call check: an expired
// session simply disappears, and the next AppendTurn or RecentTurns on it
// fails with ErrSessionExpired so the caller starts a new session.
type Manager struct {
	config Config
	store  Store
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewManager creates a session manager over the given store.
func NewManager(config Config, store Store, logger *zap.Logger) (*Manager, error) {
	config.ApplyDefaults()
	if store == nil {
		return nil, fmt.Errorf("%w: session store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config: config,
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Create starts a new session for a caller role and language.
func (m *Manager) Create(ctx context.Context, role, language string) (string, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:         uuid.NewString(),
		Role:       role,
		Language:   language,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := m.store.Put(ctx, session); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	m.logger.Debug("session created",
		zap.String("session_id", session.ID),
		zap.String("role", role),
	)
	return session.ID, nil
}

// Get returns the session by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// AppendTurn appends a turn to the session and refreshes its activity.
// Turns are never reordered; callers serialize via Acquire.
func (m *Manager) AppendTurn(ctx context.Context, id string, turn Turn) error {
	session, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	session.Turns = append(session.Turns, turn)
	session.LastActive = time.Now().UTC()
	return m.store.Put(ctx, session)
}

// RecentTurns returns up to maxTurns most recent turns in order.
// maxTurns <= 0 or above the configured cap falls back to the cap.
func (m *Manager) RecentTurns(ctx context.Context, id string, maxTurns int) ([]Turn, error) {
	session, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if maxTurns <= 0 || maxTurns > m.config.MaxTurns {
		maxTurns = m.config.MaxTurns
	}
	turns := session.Turns
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	return turns, nil
}

// Expire removes a session immediately.
func (m *Manager) Expire(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	return nil
}

// Acquire takes the per-session lock, serializing turns on one session.
// A second concurrent turn is rejected with ErrSessionBusy rather than
// queued; the caller retries after the in-flight turn completes.
func (m *Manager) Acquire(id string) (release func(), err error) {
	m.mu.Lock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	m.mu.Unlock()

	if !lock.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, id)
	}
	return lock.Unlock, nil
}

// Start launches the background expiry sweep.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.sweepCancel = cancel
	m.sweepDone = make(chan struct{})

	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(m.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the background sweep.
func (m *Manager) Close() {
	if m.sweepCancel != nil {
		m.sweepCancel()
		<-m.sweepDone
	}
}

// sweep removes sessions inactive past the window.
func (m *Manager) sweep(ctx context.Context) {
	sessions, err := m.store.All(ctx)
	if err != nil {
		m.logger.Warn("listing sessions for sweep", zap.Error(err))
		return
	}

	cutoff := time.Now().UTC().Add(-m.config.InactivityWindow)
	for _, session := range sessions {
		if session.LastActive.After(cutoff) {
			continue
		}
		if err := m.Expire(ctx, session.ID); err != nil {
			m.logger.Warn("expiring session",
				zap.String("session_id", session.ID),
				zap.Error(err),
			)
			continue
		}
		m.logger.Debug("session expired", zap.String("session_id", session.ID))
	}
}
