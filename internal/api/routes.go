package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smcbot/internal/api/handlers"
	"smcbot/internal/api/middleware"
	"smcbot/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Portfolio      handlers.PortfolioReader
	Signals        handlers.SignalSubmitter
	Health         handlers.HealthChecker
	AdminTokenHash string
	Log            *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── GET  /portfolio        - сводка счёта
//	├── GET  /signals          - живые сигналы или история дня
//	├── GET  /positions        - открытые позиции или позиции дня
//	├── GET  /pnl/daily        - дневной P&L из журнала
//	├── POST /signals/inbound  - внешний сигнал (admin)
//	└── POST /account/reset    - сброс счёта (admin)
//
// /health  - проверка хранилища
// /metrics - Prometheus
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. AdminAuth (только для мутирующих маршрутов)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Log))
	router.Use(middleware.Logging(deps.Log))

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if deps.Health != nil {
		router.HandleFunc("/health", handlers.NewHealthHandler(deps.Health).Health).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.Portfolio != nil {
		h := handlers.NewPortfolioHandler(deps.Portfolio)
		api.HandleFunc("/portfolio", h.GetPortfolio).Methods(http.MethodGet)
		api.HandleFunc("/signals", h.GetSignals).Methods(http.MethodGet)
		api.HandleFunc("/positions", h.GetPositions).Methods(http.MethodGet)
		api.HandleFunc("/pnl/daily", h.GetDailyPnl).Methods(http.MethodGet)
	}

	if deps.Signals != nil {
		h := handlers.NewSignalHandler(deps.Signals)
		admin := api.NewRoute().Subrouter()
		admin.Use(middleware.AdminAuth(deps.AdminTokenHash, deps.Log))
		admin.HandleFunc("/signals/inbound", h.SubmitInbound).Methods(http.MethodPost)
		admin.HandleFunc("/account/reset", h.ResetAccount).Methods(http.MethodPost)
	}

	return router
}
