package service

import (
	"context"
	"time"

	"smcbot/internal/bot"
	"smcbot/internal/models"
	"smcbot/internal/risk"
	"smcbot/pkg/utils"
)

// ============ Mock Engine ============

type MockEngine struct {
	snapshot  *bot.Snapshot
	eod       utils.ClockTime
	decision  risk.Decision
	submitErr error
	resetErr  error

	submitted []*models.InboundSignal
	resets    []float64
}

func NewMockEngine() *MockEngine {
	return &MockEngine{
		snapshot: &bot.Snapshot{},
		eod:      utils.ClockTime{Hour: 22},
		decision: risk.Decision{Accepted: true, RiskAmount: 1, Size: 0.002},
	}
}

func (m *MockEngine) Snapshot() *bot.Snapshot { return m.snapshot }

func (m *MockEngine) TradingDay(t time.Time) utils.TimeRange {
	return utils.TimeRange{
		Start: m.eod.LastBoundary(t, time.UTC),
		End:   m.eod.NextBoundary(t, time.UTC),
	}
}

func (m *MockEngine) SubmitInbound(_ context.Context, in *models.InboundSignal) (*models.ConfluenceSignal, risk.Decision, error) {
	m.submitted = append(m.submitted, in)
	if m.submitErr != nil {
		return nil, risk.Decision{}, m.submitErr
	}
	sig := in.ToCandidate("sig-1", time.Hour)
	if m.decision.Accepted {
		sig.Status = models.SignalActive
	} else {
		sig.Status = models.SignalRejected
		sig.RejectReason = string(m.decision.Reason)
	}
	return sig, m.decision, nil
}

func (m *MockEngine) ResetAccount(_ context.Context, balance float64) error {
	if m.resetErr != nil {
		return m.resetErr
	}
	m.resets = append(m.resets, balance)
	return nil
}
