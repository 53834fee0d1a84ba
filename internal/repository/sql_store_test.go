package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smcbot/internal/models"
)

var (
	t0   = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t0ms = t0.UnixMilli()
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, DialectPostgres), mock
}

var signalRowColumns = []string{
	"id", "symbol", "action", "entry_price", "stop_loss", "take_profit", "confluence_score",
	"breakdown", "source", "status", "reject_reason", "position_id", "generated_at", "expires_at",
}

var positionRowColumns = []string{
	"id", "signal_id", "symbol", "side", "size", "entry_price", "stop_loss", "take_profit",
	"risk_amount", "status", "close_reason", "exit_price", "last_price", "opened_at", "closed_at",
	"realized_pnl", "unrealized_pnl",
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", rebind(DialectPostgres, "a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", rebind(DialectSQLite, "a = ? AND b = ?"))
}

func TestSchema_LedgerIDPerDialect(t *testing.T) {
	pg := schema(DialectPostgres)
	lite := schema(DialectSQLite)
	require.Equal(t, len(pg), len(lite))

	assert.Contains(t, pg[len(pg)-2], "BIGSERIAL PRIMARY KEY")
	assert.Contains(t, lite[len(lite)-2], "INTEGER PRIMARY KEY AUTOINCREMENT")
}

func TestSQLStore_Migrate(t *testing.T) {
	store, mock := newMockStore(t)
	for range schema(DialectPostgres) {
		mock.ExpectExec(`CREATE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveSignal(t *testing.T) {
	sig := &models.ConfluenceSignal{
		ID: "sig-1", Symbol: "BTCUSDT", Action: models.ActionBuy,
		EntryPrice: 50000, StopLoss: 49500, TakeProfit: 51500, ConfluenceScore: 0.7,
		Breakdown: models.ComponentBreakdown{Bias: models.BiasBullish, BlockStrength: 0.4},
		Source:    models.SourcePipeline, Status: models.SignalActive,
		GeneratedAt: t0, ExpiresAt: t0.Add(4 * time.Hour),
	}

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO signals`).
					WithArgs("sig-1", "BTCUSDT", "BUY", 50000.0, 49500.0, 51500.0, 0.7,
						sqlmock.AnyArg(), "PIPELINE", "ACTIVE", "", "", t0ms, t0.Add(4*time.Hour).UnixMilli()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO signals`).WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.mockSetup(mock)

			err := store.SaveSignal(context.Background(), sig)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_UpdateSignalStatus(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE signals`).
					WithArgs("CLOSED", "", "pos-1", "pos-1", "sig-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE signals`).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrSignalNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.mockSetup(mock)

			err := store.UpdateSignalStatus(context.Background(), "sig-1", models.SignalClosed, "", "pos-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_ListSignals(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(signalRowColumns).
		AddRow("sig-2", "ETHUSDT", "SELL", 3000.0, 3060.0, 2820.0, 0.8,
			`{"bias":"BEARISH","block_strength":0.4,"gap":0.15}`, "PIPELINE", "ACTIVE", "", "", t0ms+1000, int64(0)).
		AddRow("sig-1", "BTCUSDT", "BUY", 50000.0, 49500.0, 51500.0, 0.7,
			`{}`, "INBOUND", "ACTIVE", "", "pos-1", t0ms, t0ms+3600000)

	mock.ExpectQuery(`SELECT (.+) FROM signals WHERE generated_at >= (.+) AND status = ANY`).
		WithArgs(t0ms, t0ms+86400000, sqlmock.AnyArg()).
		WillReturnRows(rows)

	got, err := store.ListSignals(context.Background(), t0, t0.Add(24*time.Hour), models.SignalActive)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.ActionSell, got[0].Action)
	assert.Equal(t, models.BiasBearish, got[0].Breakdown.Bias)
	assert.InDelta(t, 0.15, got[0].Breakdown.Gap, 1e-12)
	assert.True(t, got[0].ExpiresAt.IsZero())

	assert.Equal(t, models.SourceInbound, got[1].Source)
	assert.Equal(t, "pos-1", got[1].PositionID)
	assert.Equal(t, t0, got[1].GeneratedAt)
	assert.Equal(t, t0.Add(time.Hour), got[1].ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListSignals_SQLiteInList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(db, DialectSQLite)

	mock.ExpectQuery(`status IN \(\?, \?\)`).
		WithArgs(t0ms, t0ms+1000, "ACTIVE", "CLOSED").
		WillReturnRows(sqlmock.NewRows(signalRowColumns))

	got, err := store.ListSignals(context.Background(), t0, t0.Add(time.Second), models.SignalActive, models.SignalClosed)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func openPosition() *models.Position {
	return &models.Position{
		ID: "pos-1", SignalID: "sig-1", Symbol: "BTCUSDT", Side: models.SideLong,
		Size: 0.002, EntryPrice: 50000, StopLoss: 49500, TakeProfit: 51500, RiskAmount: 1,
		Status: models.PositionOpen, LastPrice: 50000, OpenedAt: t0,
	}
}

func TestSQLStore_SavePosition(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO positions`).
		WithArgs("pos-1", "sig-1", "BTCUSDT", "LONG", 0.002, 50000.0, 49500.0, 51500.0, 1.0,
			"OPEN", "", 0.0, 50000.0, t0ms, nil, 0.0, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SavePosition(context.Background(), openPosition()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ClosePosition(t *testing.T) {
	closedAt := t0.Add(2 * time.Hour)
	pos := openPosition()
	pos.Status = models.PositionClosed
	pos.CloseReason = models.PositionStopLoss
	pos.ExitPrice = 49500
	pos.RealizedPnl = -1
	pos.ClosedAt = &closedAt

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
		wantID      int64
	}{
		{
			name: "commit",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE positions`).
					WithArgs("CLOSED", "STOP_LOSS", 49500.0, 50000.0, closedAt.UnixMilli(), -1.0, 0.0, "pos-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(`INSERT INTO ledger`).
					WithArgs("TRADE", "pos-1", "BTCUSDT", -1.0, 99.0, closedAt.UnixMilli()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
				mock.ExpectCommit()
			},
			wantID: 7,
		},
		{
			name: "ledger failure rolls back",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE positions`).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(`INSERT INTO ledger`).WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			expectError: true,
		},
		{
			name: "unknown position rolls back",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE positions`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.mockSetup(mock)

			entry := &models.LedgerEntry{
				Kind: models.LedgerTrade, PositionID: "pos-1", Symbol: "BTCUSDT",
				Amount: -1, BalanceAfter: 99, CreatedAt: closedAt,
			}
			err := store.ClosePosition(context.Background(), pos, entry)
			if tt.expectError {
				assert.Error(t, err)
				assert.Zero(t, entry.ID)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, entry.ID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_GetPosition(t *testing.T) {
	closedMs := t0ms + 7200000

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT (.+) FROM positions WHERE id`).
			WithArgs("pos-1").
			WillReturnRows(sqlmock.NewRows(positionRowColumns).AddRow(
				"pos-1", "sig-1", "BTCUSDT", "LONG", 0.002, 50000.0, 49500.0, 51500.0,
				1.0, "CLOSED", "TAKE_PROFIT", 51500.0, 51500.0, t0ms, closedMs, 3.0, 0.0))

		p, err := store.GetPosition(context.Background(), "pos-1")
		require.NoError(t, err)
		assert.Equal(t, models.PositionClosed, p.Status)
		assert.Equal(t, models.PositionTakeProfit, p.CloseReason)
		require.NotNil(t, p.ClosedAt)
		assert.Equal(t, t0.Add(2*time.Hour), *p.ClosedAt)
		assert.InDelta(t, 3.0, p.RealizedPnl, 1e-12)
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT (.+) FROM positions WHERE id`).
			WillReturnRows(sqlmock.NewRows(positionRowColumns))

		_, err := store.GetPosition(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrPositionNotFound)
	})
}

func TestSQLStore_ListOpenPositions(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows(positionRowColumns).
		AddRow("pos-1", "sig-1", "BTCUSDT", "LONG", 0.002, 50000.0, 49500.0, 51500.0,
			1.0, "OPEN", "", 0.0, 50100.0, t0ms, nil, 0.0, 0.2).
		AddRow("pos-2", "sig-2", "ETHUSDT", "SHORT", 0.5, 3000.0, 3060.0, 2820.0,
			1.0, "OPEN", "", 0.0, 3000.0, t0ms+1000, nil, 0.0, 0.0)

	mock.ExpectQuery(`SELECT (.+) FROM positions WHERE status`).
		WithArgs("OPEN").
		WillReturnRows(rows)

	got, err := store.ListOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].ClosedAt)
	assert.Equal(t, models.SideShort, got[1].Side)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Ledger(t *testing.T) {
	t.Run("append returns id", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO ledger`).
			WithArgs("RESET", "", "", 50.0, 150.0, t0ms).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

		e := &models.LedgerEntry{Kind: models.LedgerReset, Amount: 50, BalanceAfter: 150, CreatedAt: t0}
		require.NoError(t, store.AppendRealizedPnl(context.Background(), e))
		assert.Equal(t, int64(3), e.ID)
	})

	t.Run("list", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT (.+) FROM ledger`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "position_id", "symbol", "amount", "balance_after", "created_at"}).
				AddRow(1, "TRADE", "pos-1", "BTCUSDT", -1.0, 99.0, t0ms).
				AddRow(2, "TRADE", "pos-2", "ETHUSDT", 3.0, 102.0, t0ms+1000))

		from, to := AllTime()
		got, err := store.ListLedger(context.Background(), from, to)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, models.LedgerTrade, got[1].Kind)
		assert.InDelta(t, 102.0, got[1].BalanceAfter, 1e-12)
	})

	t.Run("latest balance", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT balance_after FROM ledger`).
			WillReturnRows(sqlmock.NewRows([]string{"balance_after"}).AddRow(102.0))

		bal, ok, err := store.GetLatestBalance(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.InDelta(t, 102.0, bal, 1e-12)
	})

	t.Run("empty ledger", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT balance_after FROM ledger`).
			WillReturnRows(sqlmock.NewRows([]string{"balance_after"}))

		_, ok, err := store.GetLatestBalance(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
