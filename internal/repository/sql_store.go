package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"smcbot/internal/config"
	"smcbot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLStore хранилище поверх database/sql (PostgreSQL или SQLite)
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore оборачивает готовое соединение
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Open подключается к БД по конфигурации и применяет миграции
func Open(ctx context.Context, cfg config.DatabaseConfig) (*SQLStore, error) {
	var (
		db      *sql.DB
		err     error
		dialect Dialect
	)

	switch cfg.Driver {
	case "sqlite":
		dialect = DialectSQLite
		db, err = sql.Open("sqlite", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// один писатель: SQLite не любит параллельную запись
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL: %w", err)
		}
	default:
		dialect = DialectPostgres
		db, err = sql.Open("postgres", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB исходное соединение
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) q(query string) string { return rebind(s.dialect, query) }

// ============ Signals ============

const signalColumns = `id, symbol, action, entry_price, stop_loss, take_profit, confluence_score,
	breakdown, source, status, reject_reason, position_id, generated_at, expires_at`

// SaveSignal вставляет или обновляет сигнал
func (s *SQLStore) SaveSignal(ctx context.Context, sig *models.ConfluenceSignal) error {
	breakdown, err := json.Marshal(sig.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}

	query := `
		INSERT INTO signals (` + signalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			reject_reason = excluded.reject_reason,
			position_id = excluded.position_id,
			expires_at = excluded.expires_at
	`
	_, err = s.db.ExecContext(ctx, s.q(query),
		sig.ID,
		sig.Symbol,
		string(sig.Action),
		sig.EntryPrice,
		sig.StopLoss,
		sig.TakeProfit,
		sig.ConfluenceScore,
		string(breakdown),
		string(sig.Source),
		string(sig.Status),
		sig.RejectReason,
		sig.PositionID,
		toMillis(sig.GeneratedAt),
		toMillis(sig.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save signal %s: %w", sig.ID, err)
	}
	return nil
}

// UpdateSignalStatus меняет статус сигнала
func (s *SQLStore) UpdateSignalStatus(ctx context.Context, id string, status models.SignalStatus, reason, positionID string) error {
	query := `
		UPDATE signals
		SET status = ?, reject_reason = ?, position_id = CASE WHEN ? = '' THEN position_id ELSE ? END
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, s.q(query), string(status), reason, positionID, positionID, id)
	if err != nil {
		return fmt.Errorf("update signal %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSignalNotFound
	}
	return nil
}

// ListSignals сигналы за интервал, новые первыми
func (s *SQLStore) ListSignals(ctx context.Context, from, to time.Time, statuses ...models.SignalStatus) ([]*models.ConfluenceSignal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE generated_at >= ? AND generated_at < ?`
	args := []interface{}{toMillis(from), toMillis(to)}

	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		if s.dialect == DialectPostgres {
			query += ` AND status = ANY(?)`
			args = append(args, pq.Array(names))
		} else {
			query += ` AND status IN (?` + strings.Repeat(", ?", len(names)-1) + `)`
			for _, n := range names {
				args = append(args, n)
			}
		}
	}
	query += ` ORDER BY generated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []*models.ConfluenceSignal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row scanner) (*models.ConfluenceSignal, error) {
	var (
		sig                    models.ConfluenceSignal
		action, source, status string
		breakdown              string
		generatedAt, expiresAt int64
	)
	err := row.Scan(
		&sig.ID,
		&sig.Symbol,
		&action,
		&sig.EntryPrice,
		&sig.StopLoss,
		&sig.TakeProfit,
		&sig.ConfluenceScore,
		&breakdown,
		&source,
		&status,
		&sig.RejectReason,
		&sig.PositionID,
		&generatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan signal: %w", err)
	}
	sig.Action = models.Action(action)
	sig.Source = models.SignalSource(source)
	sig.Status = models.SignalStatus(status)
	sig.GeneratedAt = fromMillis(generatedAt)
	sig.ExpiresAt = fromMillis(expiresAt)
	if breakdown != "" {
		if err := json.Unmarshal([]byte(breakdown), &sig.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown of %s: %w", sig.ID, err)
		}
	}
	return &sig, nil
}

// ============ Positions ============

const positionColumns = `id, signal_id, symbol, side, size, entry_price, stop_loss, take_profit,
	risk_amount, status, close_reason, exit_price, last_price, opened_at, closed_at,
	realized_pnl, unrealized_pnl`

// SavePosition вставляет новую позицию
func (s *SQLStore) SavePosition(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, s.q(query),
		p.ID,
		p.SignalID,
		p.Symbol,
		string(p.Side),
		p.Size,
		p.EntryPrice,
		p.StopLoss,
		p.TakeProfit,
		p.RiskAmount,
		string(p.Status),
		string(p.CloseReason),
		p.ExitPrice,
		p.LastPrice,
		toMillis(p.OpenedAt),
		nullMillis(p.ClosedAt),
		p.RealizedPnl,
		p.UnrealizedPnl,
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.ID, err)
	}
	return nil
}

const updatePositionQuery = `
	UPDATE positions
	SET status = ?, close_reason = ?, exit_price = ?, last_price = ?, closed_at = ?,
		realized_pnl = ?, unrealized_pnl = ?
	WHERE id = ?
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLStore) updatePosition(ctx context.Context, ex execer, p *models.Position) error {
	result, err := ex.ExecContext(ctx, s.q(updatePositionQuery),
		string(p.Status),
		string(p.CloseReason),
		p.ExitPrice,
		p.LastPrice,
		nullMillis(p.ClosedAt),
		p.RealizedPnl,
		p.UnrealizedPnl,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update position %s: %w", p.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// UpdatePosition обновляет изменяемые поля позиции
func (s *SQLStore) UpdatePosition(ctx context.Context, p *models.Position) error {
	return s.updatePosition(ctx, s.db, p)
}

// ClosePosition обновляет позицию и пишет P&L одной транзакцией
func (s *SQLStore) ClosePosition(ctx context.Context, p *models.Position, entry *models.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin close %s: %w", p.ID, err)
	}
	defer tx.Rollback()

	if err := s.updatePosition(ctx, tx, p); err != nil {
		return err
	}
	if entry != nil {
		id, err := s.insertLedger(ctx, tx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit close %s: %w", p.ID, err)
	}
	return nil
}

// GetPosition позиция по ID
func (s *SQLStore) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`
	p, err := scanPosition(s.db.QueryRowContext(ctx, s.q(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListOpenPositions все открытые позиции по времени открытия
func (s *SQLStore) ListOpenPositions(ctx context.Context) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ? ORDER BY opened_at, id`
	return s.queryPositions(ctx, s.q(query), string(models.PositionOpen))
}

// ListPositions позиции, открытые в интервале
func (s *SQLStore) ListPositions(ctx context.Context, from, to time.Time) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE opened_at >= ? AND opened_at < ? ORDER BY opened_at DESC, id`
	return s.queryPositions(ctx, s.q(query), toMillis(from), toMillis(to))
}

func (s *SQLStore) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*models.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row scanner) (*models.Position, error) {
	var (
		p                         models.Position
		side, status, closeReason string
		openedAt                  int64
		closedAt                  sql.NullInt64
	)
	err := row.Scan(
		&p.ID,
		&p.SignalID,
		&p.Symbol,
		&side,
		&p.Size,
		&p.EntryPrice,
		&p.StopLoss,
		&p.TakeProfit,
		&p.RiskAmount,
		&status,
		&closeReason,
		&p.ExitPrice,
		&p.LastPrice,
		&openedAt,
		&closedAt,
		&p.RealizedPnl,
		&p.UnrealizedPnl,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan position: %w", err)
	}
	p.Side = models.Side(side)
	p.Status = models.PositionStatus(status)
	p.CloseReason = models.PositionStatus(closeReason)
	p.OpenedAt = fromMillis(openedAt)
	if closedAt.Valid {
		t := fromMillis(closedAt.Int64)
		p.ClosedAt = &t
	}
	return &p, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// ============ Ledger ============

func (s *SQLStore) insertLedger(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, e *models.LedgerEntry) (int64, error) {
	query := `
		INSERT INTO ledger (kind, position_id, symbol, amount, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	var id int64
	err := q.QueryRowContext(ctx, s.q(query),
		string(e.Kind),
		e.PositionID,
		e.Symbol,
		e.Amount,
		e.BalanceAfter,
		toMillis(e.CreatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append ledger: %w", err)
	}
	return id, nil
}

// AppendRealizedPnl добавляет запись журнала
func (s *SQLStore) AppendRealizedPnl(ctx context.Context, e *models.LedgerEntry) error {
	id, err := s.insertLedger(ctx, s.db, e)
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// ListLedger записи журнала за интервал
func (s *SQLStore) ListLedger(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	query := `
		SELECT id, kind, position_id, symbol, amount, balance_after, created_at
		FROM ledger
		WHERE created_at >= ? AND created_at < ?
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, s.q(query), toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var (
			e         models.LedgerEntry
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.PositionID, &e.Symbol, &e.Amount, &e.BalanceAfter, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		e.Kind = models.LedgerKind(kind)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetLatestBalance balance_after последней записи журнала
func (s *SQLStore) GetLatestBalance(ctx context.Context) (float64, bool, error) {
	query := `SELECT balance_after FROM ledger ORDER BY id DESC LIMIT 1`
	var balance float64
	err := s.db.QueryRowContext(ctx, query).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("latest balance: %w", err)
	}
	return balance, true, nil
}

// Ping проверка соединения
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает соединение
func (s *SQLStore) Close() error {
	return s.db.Close()
}
