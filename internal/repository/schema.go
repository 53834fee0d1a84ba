package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Dialect SQL диалект хранилища
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// rebind переводит плейсхолдеры ? в $n для postgres
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func schema(d Dialect) []string {
	ledgerID := "BIGSERIAL PRIMARY KEY"
	if d == DialectSQLite {
		ledgerID = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	// время хранится как unix ms: одинаково для обоих драйверов
	return []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id               TEXT PRIMARY KEY,
			symbol           TEXT NOT NULL,
			action           TEXT NOT NULL,
			entry_price      DOUBLE PRECISION NOT NULL,
			stop_loss        DOUBLE PRECISION NOT NULL,
			take_profit      DOUBLE PRECISION NOT NULL,
			confluence_score DOUBLE PRECISION NOT NULL,
			breakdown        TEXT NOT NULL DEFAULT '{}',
			source           TEXT NOT NULL,
			status           TEXT NOT NULL,
			reject_reason    TEXT NOT NULL DEFAULT '',
			position_id      TEXT NOT NULL DEFAULT '',
			generated_at     BIGINT NOT NULL,
			expires_at       BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_generated ON signals(generated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id             TEXT PRIMARY KEY,
			signal_id      TEXT NOT NULL,
			symbol         TEXT NOT NULL,
			side           TEXT NOT NULL,
			size           DOUBLE PRECISION NOT NULL,
			entry_price    DOUBLE PRECISION NOT NULL,
			stop_loss      DOUBLE PRECISION NOT NULL,
			take_profit    DOUBLE PRECISION NOT NULL,
			risk_amount    DOUBLE PRECISION NOT NULL,
			status         TEXT NOT NULL,
			close_reason   TEXT NOT NULL DEFAULT '',
			exit_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
			opened_at      BIGINT NOT NULL,
			closed_at      BIGINT,
			realized_pnl   DOUBLE PRECISION NOT NULL DEFAULT 0,
			unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_opened ON positions(opened_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ledger (
			id            %s,
			kind          TEXT NOT NULL,
			position_id   TEXT NOT NULL DEFAULT '',
			symbol        TEXT NOT NULL DEFAULT '',
			amount        DOUBLE PRECISION NOT NULL,
			balance_after DOUBLE PRECISION NOT NULL,
			created_at    BIGINT NOT NULL
		)`, ledgerID),
		`CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger(created_at)`,
	}
}

// Migrate создаёт таблицы, если их нет
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
