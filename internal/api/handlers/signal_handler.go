package handlers

import (
	"context"
	"errors"
	"net/http"

	"smcbot/internal/models"
	"smcbot/internal/service"
)

// SignalSubmitter входящие сигналы и сброс счёта
type SignalSubmitter interface {
	SubmitInbound(ctx context.Context, in *models.InboundSignal) (*service.InboundResult, error)
	ResetAccount(ctx context.Context, balance float64) error
}

// SignalHandler обрабатывает мутирующие запросы (требуют административный токен).
//
// Endpoints:
// - POST /api/v1/signals/inbound - внешний сигнал через контроль допуска
// - POST /api/v1/account/reset - явный сброс счёта после обнуления
type SignalHandler struct {
	signals SignalSubmitter
}

// NewSignalHandler создает handler
func NewSignalHandler(signals SignalSubmitter) *SignalHandler {
	return &SignalHandler{signals: signals}
}

// SubmitInbound POST /api/v1/signals/inbound
//
// Response 201 Created - сигнал стал позицией;
// Response 200 OK - отказ контроля допуска (accepted=false, reason);
// Response 422 Unprocessable Entity - некорректный или просроченный сигнал.
func (h *SignalHandler) SubmitInbound(w http.ResponseWriter, r *http.Request) {
	var in models.InboundSignal
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", err)
		return
	}

	res, err := h.signals.SubmitInbound(r.Context(), &in)
	switch {
	case err == nil:
	case models.IsValidationError(err):
		code := "VALIDATION_FAILED"
		if errors.Is(err, models.ErrSignalExpired) {
			code = "SIGNAL_EXPIRED"
		}
		writeError(w, http.StatusUnprocessableEntity, code, err.Error(), nil)
		return
	case errors.Is(err, models.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, "ENGINE_STOPPED", "lifecycle engine is stopped", nil)
		return
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to process signal", err)
		return
	}

	status := http.StatusOK
	if res.Accepted {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

type resetRequest struct {
	Balance float64 `json:"balance"`
}

// ResetAccount POST /api/v1/account/reset
//
// Request: {"balance": 100}
func (h *SignalHandler) ResetAccount(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", err)
		return
	}

	if err := h.signals.ResetAccount(r.Context(), req.Balance); err != nil {
		if models.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to reset account", err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "account reset", Data: req})
}
