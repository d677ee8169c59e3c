package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"bagging-bot/internal/errors"
	"bagging-bot/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer keeps transactional apply-fill free of SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Bot configurations; at most one is active
	CREATE TABLE IF NOT EXISTS bot_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		base_asset TEXT NOT NULL,
		quote_asset TEXT NOT NULL,
		min_order_size REAL NOT NULL,
		max_order_size REAL NOT NULL,
		profit_threshold REAL NOT NULL,
		stop_loss_threshold REAL NOT NULL,
		trading_interval_minutes INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Trading sessions; at most one is ACTIVE
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		initial_capital REAL NOT NULL,
		current_capital REAL NOT NULL,
		accumulated_tokens REAL NOT NULL,
		status TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME,
		cycle_duration_days INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Trades, append only
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		order_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		executed_quantity REAL NOT NULL,
		executed_price REAL NOT NULL,
		status TEXT NOT NULL,
		commission REAL NOT NULL DEFAULT 0,
		commission_asset TEXT,
		reason TEXT,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	-- Frozen completion reports
	CREATE TABLE IF NOT EXISTS cycle_reports (
		session_id TEXT PRIMARY KEY,
		session_name TEXT NOT NULL,
		initial_capital REAL NOT NULL,
		final_capital REAL NOT NULL,
		final_tokens REAL NOT NULL,
		price REAL NOT NULL,
		token_value REAL NOT NULL,
		total_value REAL NOT NULL,
		capital_preserved INTEGER NOT NULL,
		profit_loss REAL NOT NULL,
		profit_loss_percent REAL NOT NULL,
		duration_days INTEGER NOT NULL,
		total_trades INTEGER NOT NULL,
		completion_trigger TEXT NOT NULL,
		completed_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_bot_configs_one_active ON bot_configs(is_active) WHERE is_active = 1;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON sessions(status) WHERE status = 'ACTIVE';
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
	CREATE INDEX IF NOT EXISTS idx_trades_session_time ON trades(session_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// Bot Config Methods
// ============================================================================

// SaveBotConfig inserts or updates a bot configuration. The active flag is not
// changed here; use ActivateBotConfig.
func (s *SQLiteStore) SaveBotConfig(ctx context.Context, cfg *models.BotConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_configs (id, name, symbol, base_asset, quote_asset, min_order_size, max_order_size, profit_threshold, stop_loss_threshold, trading_interval_minutes, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			base_asset = excluded.base_asset,
			quote_asset = excluded.quote_asset,
			min_order_size = excluded.min_order_size,
			max_order_size = excluded.max_order_size,
			profit_threshold = excluded.profit_threshold,
			stop_loss_threshold = excluded.stop_loss_threshold,
			trading_interval_minutes = excluded.trading_interval_minutes,
			updated_at = excluded.updated_at
	`, cfg.ID, cfg.Name, cfg.Symbol, cfg.BaseAsset, cfg.QuoteAsset, cfg.MinOrderSize, cfg.MaxOrderSize,
		cfg.ProfitThreshold, cfg.StopLossThreshold, cfg.TradingIntervalMinutes, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save bot config: %w", err)
	}
	return nil
}

// ActivateBotConfig marks one configuration active and deactivates the rest.
func (s *SQLiteStore) ActivateBotConfig(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE bot_configs SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("failed to deactivate bot configs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE bot_configs SET is_active = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to activate bot config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "bot config %s", id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const botConfigColumns = `id, name, symbol, base_asset, quote_asset, min_order_size, max_order_size, profit_threshold, stop_loss_threshold, trading_interval_minutes, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBotConfig(row rowScanner) (*models.BotConfig, error) {
	var c models.BotConfig
	var active int
	err := row.Scan(&c.ID, &c.Name, &c.Symbol, &c.BaseAsset, &c.QuoteAsset, &c.MinOrderSize, &c.MaxOrderSize,
		&c.ProfitThreshold, &c.StopLossThreshold, &c.TradingIntervalMinutes, &active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.IsActive = active == 1
	return &c, nil
}

// GetBotConfig retrieves a bot configuration by ID.
func (s *SQLiteStore) GetBotConfig(ctx context.Context, id string) (*models.BotConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botConfigColumns+` FROM bot_configs WHERE id = ?`, id)
	cfg, err := scanBotConfig(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "bot config %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot config: %w", err)
	}
	return cfg, nil
}

// ActiveBotConfig retrieves the active bot configuration.
func (s *SQLiteStore) ActiveBotConfig(ctx context.Context) (*models.BotConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botConfigColumns+` FROM bot_configs WHERE is_active = 1`)
	cfg, err := scanBotConfig(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "active bot config")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active bot config: %w", err)
	}
	return cfg, nil
}

// ListBotConfigs lists all bot configurations, newest first.
func (s *SQLiteStore) ListBotConfigs(ctx context.Context) ([]models.BotConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botConfigColumns+` FROM bot_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bot configs: %w", err)
	}
	defer rows.Close()

	var configs []models.BotConfig
	for rows.Next() {
		cfg, err := scanBotConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot config: %w", err)
		}
		configs = append(configs, *cfg)
	}

	return configs, rows.Err()
}

// ============================================================================
// Session Methods
// ============================================================================

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, initial_capital, current_capital, accumulated_tokens, status, start_date, end_date, cycle_duration_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Name, sess.InitialCapital, sess.CurrentCapital, sess.AccumulatedTokens, sess.Status,
		sess.StartDate, nullTime(sess.EndDate), sess.CycleDurationDays, sess.CreatedAt, sess.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSession writes the session status, balances and end date. A COMPLETED
// session is left untouched.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET current_capital = ?, accumulated_tokens = ?, status = ?, end_date = ?, updated_at = ?
		WHERE id = ? AND status <> ?
	`, sess.CurrentCapital, sess.AccumulatedTokens, sess.Status, nullTime(sess.EndDate), sess.UpdatedAt,
		sess.ID, models.SessionCompleted)
	if isUniqueViolation(err) {
		return errors.ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return checkUpdated(ctx, s.db, sess.ID, res)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// checkUpdated explains a status-guarded session update that matched no row.
func checkUpdated(ctx context.Context, db queryer, id string, res sql.Result) error {
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	stored, err := scanSession(db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return errors.Wrapf(errors.ErrNotFound, "session %s", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if err := RequireActive(stored); err != nil {
		return err
	}
	return fmt.Errorf("session %s was not updated", id)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

const sessionColumns = `id, name, initial_capital, current_capital, accumulated_tokens, status, start_date, end_date, cycle_duration_days, created_at, updated_at`

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var end sql.NullTime
	err := row.Scan(&sess.ID, &sess.Name, &sess.InitialCapital, &sess.CurrentCapital, &sess.AccumulatedTokens,
		&sess.Status, &sess.StartDate, &end, &sess.CycleDurationDays, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if end.Valid {
		t := end.Time
		sess.EndDate = &t
	}
	return &sess, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "session %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ActiveSession retrieves the ACTIVE session.
func (s *SQLiteStore) ActiveSession(ctx context.Context) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = ?`, models.SessionActive))
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "active session")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return sess, nil
}

// ListSessions lists sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}

	return sessions, rows.Err()
}

// ============================================================================
// Trade Methods
// ============================================================================

// ApplyTrade appends a trade and writes the session's balances in one transaction.
// The trade is rolled back unless the stored session is still ACTIVE.
func (s *SQLiteStore) ApplyTrade(ctx context.Context, sess *models.Session, trade *models.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades (id, session_id, order_id, symbol, side, quantity, executed_quantity, executed_price, status, commission, commission_asset, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.SessionID, trade.OrderID, trade.Symbol, trade.Side, trade.Quantity, trade.ExecutedQuantity,
		trade.ExecutedPrice, trade.Status, trade.Commission, trade.CommissionAsset, trade.Reason, trade.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET current_capital = ?, accumulated_tokens = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, sess.CurrentCapital, sess.AccumulatedTokens, sess.UpdatedAt, sess.ID, models.SessionActive)
	if err != nil {
		return fmt.Errorf("failed to update session balances: %w", err)
	}
	if err := checkUpdated(ctx, tx, sess.ID, res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListTrades retrieves trades ordered oldest first. With a limit, the most recent
// trades are kept.
func (s *SQLiteStore) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := "SELECT id, session_id, order_id, symbol, side, quantity, executed_quantity, executed_price, status, commission, commission_asset, reason, timestamp FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, filter.Side)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var orderID, commissionAsset, reason sql.NullString
		if err := rows.Scan(&t.ID, &t.SessionID, &orderID, &t.Symbol, &t.Side, &t.Quantity, &t.ExecutedQuantity,
			&t.ExecutedPrice, &t.Status, &t.Commission, &commissionAsset, &reason, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.OrderID = orderID.String
		t.CommissionAsset = commissionAsset.String
		t.Reason = reason.String
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}

// CountExecutedTrades counts FILLED and PARTIAL trades for a session since a time.
func (s *SQLiteStore) CountExecutedTrades(ctx context.Context, sessionID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE session_id = ? AND timestamp >= ? AND status IN (?, ?)
	`, sessionID, since, models.TradeFilled, models.TradePartial).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

// ============================================================================
// Report Methods
// ============================================================================

// CompleteSession writes the completed session and its frozen report in one transaction.
// Only an ACTIVE session can complete.
func (s *SQLiteStore) CompleteSession(ctx context.Context, sess *models.Session, report *models.CycleReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET current_capital = ?, accumulated_tokens = ?, status = ?, end_date = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, sess.CurrentCapital, sess.AccumulatedTokens, sess.Status, nullTime(sess.EndDate), sess.UpdatedAt,
		sess.ID, models.SessionActive)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if err := checkUpdated(ctx, tx, sess.ID, res); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycle_reports (session_id, session_name, initial_capital, final_capital, final_tokens, price, token_value, total_value, capital_preserved, profit_loss, profit_loss_percent, duration_days, total_trades, completion_trigger, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.SessionID, report.SessionName, report.InitialCapital, report.FinalCapital, report.FinalTokens, report.Price,
		report.TokenValue, report.TotalValue, boolToInt(report.CapitalPreserved), report.ProfitLoss, report.ProfitLossPercent,
		report.DurationDays, report.TotalTrades, report.Trigger, report.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save cycle report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetReport retrieves the frozen report of a completed session.
func (s *SQLiteStore) GetReport(ctx context.Context, sessionID string) (*models.CycleReport, error) {
	var r models.CycleReport
	var preserved int
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, session_name, initial_capital, final_capital, final_tokens, price, token_value, total_value, capital_preserved, profit_loss, profit_loss_percent, duration_days, total_trades, completion_trigger, completed_at
		FROM cycle_reports WHERE session_id = ?
	`, sessionID).Scan(&r.SessionID, &r.SessionName, &r.InitialCapital, &r.FinalCapital, &r.FinalTokens, &r.Price,
		&r.TokenValue, &r.TotalValue, &preserved, &r.ProfitLoss, &r.ProfitLossPercent, &r.DurationDays, &r.TotalTrades,
		&r.Trigger, &r.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "report for session %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	r.CapitalPreserved = preserved == 1
	return &r, nil
}

var _ Store = (*SQLiteStore)(nil)
