package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/models"
)

// MemoryStore implements Store in process memory. It is used for dry runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	configs  map[string]models.BotConfig
	sessions map[string]models.Session
	trades   []models.Trade
	reports  map[string]models.CycleReport
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:  make(map[string]models.BotConfig),
		sessions: make(map[string]models.Session),
		reports:  make(map[string]models.CycleReport),
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// SaveBotConfig inserts or updates a bot configuration, preserving its active flag.
func (m *MemoryStore) SaveBotConfig(ctx context.Context, cfg *models.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cfg
	if existing, ok := m.configs[cfg.ID]; ok {
		c.IsActive = existing.IsActive
		c.CreatedAt = existing.CreatedAt
	} else {
		c.IsActive = false
	}
	m.configs[cfg.ID] = c
	return nil
}

// ActivateBotConfig marks one configuration active and deactivates the rest.
func (m *MemoryStore) ActivateBotConfig(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.configs[id]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "bot config %s", id)
	}
	now := time.Now().UTC()
	for k, c := range m.configs {
		active := k == id
		if c.IsActive != active {
			c.IsActive = active
			c.UpdatedAt = now
			m.configs[k] = c
		}
	}
	return nil
}

// GetBotConfig retrieves a bot configuration by ID.
func (m *MemoryStore) GetBotConfig(ctx context.Context, id string) (*models.BotConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.configs[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "bot config %s", id)
	}
	return &c, nil
}

// ActiveBotConfig retrieves the active bot configuration.
func (m *MemoryStore) ActiveBotConfig(ctx context.Context) (*models.BotConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.configs {
		if c.IsActive {
			c := c
			return &c, nil
		}
	}
	return nil, errors.Wrap(errors.ErrNotFound, "active bot config")
}

// ListBotConfigs lists all bot configurations, newest first.
func (m *MemoryStore) ListBotConfigs(ctx context.Context) ([]models.BotConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]models.BotConfig, 0, len(m.configs))
	for _, c := range m.configs {
		configs = append(configs, c)
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].CreatedAt.After(configs[j].CreatedAt)
	})
	return configs, nil
}

// activeConflict reports whether writing sess would leave two sessions ACTIVE.
func (m *MemoryStore) activeConflict(sess *models.Session) bool {
	if sess.Status != models.SessionActive {
		return false
	}
	for id, s := range m.sessions {
		if id != sess.ID && s.Status == models.SessionActive {
			return true
		}
	}
	return false
}

// CreateSession inserts a new session.
func (m *MemoryStore) CreateSession(ctx context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sess.ID]; ok {
		return errors.Wrapf(errors.ErrConfigInvalid, "duplicate session id %s", sess.ID)
	}
	if m.activeConflict(sess) {
		return errors.ErrSessionExists
	}
	m.sessions[sess.ID] = copySession(sess)
	return nil
}

// UpdateSession writes the session status, balances and end date. A COMPLETED
// session is left untouched.
func (m *MemoryStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[sess.ID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "session %s", sess.ID)
	}
	if stored.Status == models.SessionCompleted {
		return RequireActive(&stored)
	}
	return m.updateLocked(sess)
}

// activeLocked returns the stored session if it is ACTIVE.
func (m *MemoryStore) activeLocked(id string) (models.Session, error) {
	stored, ok := m.sessions[id]
	if !ok {
		return models.Session{}, errors.Wrapf(errors.ErrNotFound, "session %s", id)
	}
	return stored, RequireActive(&stored)
}

func (m *MemoryStore) updateLocked(sess *models.Session) error {
	if m.activeConflict(sess) {
		return errors.ErrSessionExists
	}
	m.sessions[sess.ID] = copySession(sess)
	return nil
}

func copySession(sess *models.Session) models.Session {
	s := *sess
	if sess.EndDate != nil {
		end := *sess.EndDate
		s.EndDate = &end
	}
	return s
}

// GetSession retrieves a session by ID.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "session %s", id)
	}
	out := copySession(&s)
	return &out, nil
}

// ActiveSession retrieves the ACTIVE session.
func (m *MemoryStore) ActiveSession(ctx context.Context) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.Status == models.SessionActive {
			out := copySession(&s)
			return &out, nil
		}
	}
	return nil, errors.Wrap(errors.ErrNotFound, "active session")
}

// ListSessions lists sessions, newest first.
func (m *MemoryStore) ListSessions(ctx context.Context, filter SessionFilter) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []models.Session
	for _, s := range m.sessions {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		sessions = append(sessions, copySession(&s))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if filter.Limit > 0 && len(sessions) > filter.Limit {
		sessions = sessions[:filter.Limit]
	}
	return sessions, nil
}

// ApplyTrade appends a trade and writes the session's balances atomically. Nothing
// is written unless the stored session is still ACTIVE.
func (m *MemoryStore) ApplyTrade(ctx context.Context, sess *models.Session, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.activeLocked(sess.ID)
	if err != nil {
		return err
	}
	stored.CurrentCapital = sess.CurrentCapital
	stored.AccumulatedTokens = sess.AccumulatedTokens
	stored.UpdatedAt = sess.UpdatedAt
	m.sessions[sess.ID] = stored
	m.trades = append(m.trades, *trade)
	return nil
}

// ListTrades retrieves trades ordered oldest first. With a limit, the most recent
// trades are kept.
func (m *MemoryStore) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var trades []models.Trade
	for _, t := range m.trades {
		if filter.SessionID != "" && t.SessionID != filter.SessionID {
			continue
		}
		if filter.Side != "" && t.Side != filter.Side {
			continue
		}
		if !filter.Since.IsZero() && t.Timestamp.Before(filter.Since) {
			continue
		}
		trades = append(trades, t)
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
	if filter.Limit > 0 && len(trades) > filter.Limit {
		trades = trades[len(trades)-filter.Limit:]
	}
	return trades, nil
}

// CountExecutedTrades counts FILLED and PARTIAL trades for a session since a time.
func (m *MemoryStore) CountExecutedTrades(ctx context.Context, sessionID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.trades {
		if t.SessionID == sessionID && !t.Timestamp.Before(since) && t.Status.Executed() {
			n++
		}
	}
	return n, nil
}

// CompleteSession writes the completed session and its report atomically. Only an
// ACTIVE session can complete.
func (m *MemoryStore) CompleteSession(ctx context.Context, sess *models.Session, report *models.CycleReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reports[report.SessionID]; ok {
		return errors.Wrapf(errors.ErrSessionCompleted, "report for session %s already exists", report.SessionID)
	}
	if _, err := m.activeLocked(sess.ID); err != nil {
		return err
	}
	if err := m.updateLocked(sess); err != nil {
		return err
	}
	m.reports[report.SessionID] = *report
	return nil
}

// GetReport retrieves the frozen report of a completed session.
func (m *MemoryStore) GetReport(ctx context.Context, sessionID string) (*models.CycleReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[sessionID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "report for session %s", sessionID)
	}
	return &r, nil
}

var _ Store = (*MemoryStore)(nil)
