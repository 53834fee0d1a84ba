package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"smcbot/internal/models"
)

// PortfolioReader read API торгового ядра
type PortfolioReader interface {
	GetPortfolioSummary() models.PortfolioSummary
	ListLiveSignals() []*models.ConfluenceSignal
	ListOpenPositions() []*models.Position
	GetDailyPnl(ctx context.Context) (*models.DailyPnl, error)
	ListDailyPnl(ctx context.Context, days int) ([]*models.DailyPnl, error)
	ListSignals(ctx context.Context, t time.Time, statuses ...models.SignalStatus) ([]*models.ConfluenceSignal, error)
	ListPositions(ctx context.Context, t time.Time) ([]*models.Position, error)
}

// PortfolioHandler обрабатывает HTTP запросы чтения состояния счёта.
//
// Endpoints:
// - GET /api/v1/portfolio - сводка счёта
// - GET /api/v1/signals - живые сигналы; ?date=YYYY-MM-DD&status=REJECTED,EXPIRED - история дня
// - GET /api/v1/positions - открытые позиции; ?date=YYYY-MM-DD - позиции дня
// - GET /api/v1/pnl/daily - P&L текущего торгового дня; ?days=N - последние N дней
type PortfolioHandler struct {
	portfolio PortfolioReader
	now       func() time.Time
}

// NewPortfolioHandler создает handler
func NewPortfolioHandler(portfolio PortfolioReader) *PortfolioHandler {
	return &PortfolioHandler{
		portfolio: portfolio,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetPortfolio GET /api/v1/portfolio
//
// Response 200 OK:
//
//	{
//	  "balance": 103.5,
//	  "initial_balance": 100,
//	  "high_water_mark": 104,
//	  "drawdown": 0.0048,
//	  "realized_pnl": 3.5,
//	  "unrealized_pnl": -0.2,
//	  "open_positions": 2,
//	  "live_signals": 2,
//	  "open_risk": 2.07,
//	  "risk_utilization": 0.02,
//	  "blown": false,
//	  "as_of": "2024-05-01T15:00:00Z"
//	}
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.portfolio.GetPortfolioSummary())
}

// GetSignals GET /api/v1/signals
func (h *PortfolioHandler) GetSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("date") == "" && q.Get("status") == "" {
		writeJSON(w, http.StatusOK, nonNilSignals(h.portfolio.ListLiveSignals()))
		return
	}

	day, err := queryDate(r, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD", err)
		return
	}
	var statuses []models.SignalStatus
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, models.SignalStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}

	signals, err := h.portfolio.ListSignals(r.Context(), day, statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list signals", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilSignals(signals))
}

// GetPositions GET /api/v1/positions
func (h *PortfolioHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("date") == "" {
		writeJSON(w, http.StatusOK, nonNilPositions(h.portfolio.ListOpenPositions()))
		return
	}

	day, err := queryDate(r, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD", err)
		return
	}
	positions, err := h.portfolio.ListPositions(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilPositions(positions))
}

// GetDailyPnl GET /api/v1/pnl/daily
//
// Response 200 OK:
//
//	{"date": "2024-05-01", "realized": 4.5, "trades": 4, "wins": 2, "losses": 1}
func (h *PortfolioHandler) GetDailyPnl(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("days") != "" {
		days, err := queryInt(r, "days", 7, 90)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DAYS", "days must be an integer", err)
			return
		}
		list, err := h.portfolio.ListDailyPnl(r.Context(), days)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to compute daily pnl", err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	pnl, err := h.portfolio.GetDailyPnl(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to compute daily pnl", err)
		return
	}
	writeJSON(w, http.StatusOK, pnl)
}

// пустые списки отдаются как [], а не null
func nonNilSignals(s []*models.ConfluenceSignal) []*models.ConfluenceSignal {
	if s == nil {
		return []*models.ConfluenceSignal{}
	}
	return s
}

func nonNilPositions(p []*models.Position) []*models.Position {
	if p == nil {
		return []*models.Position{}
	}
	return p
}
