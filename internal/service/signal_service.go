package service

import (
	"context"

	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

// InboundResult исход обработки входящего сигнала
type InboundResult struct {
	Signal   *models.ConfluenceSignal `json:"signal"`
	Accepted bool                     `json:"accepted"`
	Reason   models.RejectReason      `json:"reason,omitempty"`
	Detail   string                   `json:"detail,omitempty"`
}

// SignalService входящие сигналы и административные действия над счётом
type SignalService struct {
	engine EngineInterface
	log    *utils.Logger
}

// NewSignalService создает сервис
func NewSignalService(engine EngineInterface, log *utils.Logger) *SignalService {
	if log == nil {
		log = utils.L()
	}
	return &SignalService{engine: engine, log: log.WithComponent("signals")}
}

// SubmitInbound проводит внешний сигнал через контроль допуска.
// Отказ допуска - нормальный результат, ошибка возвращается только
// для некорректного сигнала (ValidationError) или остановленного движка.
func (s *SignalService) SubmitInbound(ctx context.Context, in *models.InboundSignal) (*InboundResult, error) {
	sig, d, err := s.engine.SubmitInbound(ctx, in)
	if err != nil {
		return nil, err
	}

	res := &InboundResult{Signal: sig, Accepted: d.Accepted, Reason: d.Reason, Detail: d.Detail}
	s.log.Info("Inbound signal processed",
		utils.Symbol(sig.Symbol),
		utils.SignalID(sig.ID),
		utils.String("origin", in.Origin.Source),
		utils.Bool("accepted", d.Accepted),
		utils.Reason(string(d.Reason)),
	)
	return res, nil
}

// ResetAccount явный сброс счёта (снимает kill switch)
func (s *SignalService) ResetAccount(ctx context.Context, balance float64) error {
	return s.engine.ResetAccount(ctx, balance)
}
