package bot

import (
	"errors"
	"testing"

	"smcbot/internal/models"
)

// TestCanTransition_ValidTransitions проверяет все валидные переходы между состояниями
func TestCanTransition_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from models.PositionStatus
		to   models.PositionStatus
	}{
		{"PENDING → OPEN (opened)", models.PositionPending, models.PositionOpen},
		{"PENDING → CANCELLED (open not possible)", models.PositionPending, models.PositionCancelled},
		{"OPEN → STOP_LOSS", models.PositionOpen, models.PositionStopLoss},
		{"OPEN → TAKE_PROFIT", models.PositionOpen, models.PositionTakeProfit},
		{"OPEN → EOD_CLOSE", models.PositionOpen, models.PositionEODClose},
		{"OPEN → EMERGENCY_CLOSE", models.PositionOpen, models.PositionEmergencyClose},
		{"STOP_LOSS → CLOSED", models.PositionStopLoss, models.PositionClosed},
		{"TAKE_PROFIT → CLOSED", models.PositionTakeProfit, models.PositionClosed},
		{"EOD_CLOSE → CLOSED", models.PositionEODClose, models.PositionClosed},
		{"EMERGENCY_CLOSE → CLOSED", models.PositionEmergencyClose, models.PositionClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
			}
		})
	}
}

// TestCanTransition_InvalidTransitions проверяет, что невалидные переходы отклоняются
func TestCanTransition_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from models.PositionStatus
		to   models.PositionStatus
	}{
		// ни один переход не минует OPEN
		{"PENDING → STOP_LOSS", models.PositionPending, models.PositionStopLoss},
		{"PENDING → EOD_CLOSE", models.PositionPending, models.PositionEODClose},
		{"PENDING → CLOSED", models.PositionPending, models.PositionClosed},
		{"OPEN → CLOSED (skips reason)", models.PositionOpen, models.PositionClosed},
		{"OPEN → PENDING", models.PositionOpen, models.PositionPending},
		{"OPEN → CANCELLED", models.PositionOpen, models.PositionCancelled},
		{"STOP_LOSS → OPEN", models.PositionStopLoss, models.PositionOpen},
		{"STOP_LOSS → TAKE_PROFIT", models.PositionStopLoss, models.PositionTakeProfit},
		// конечные состояния не выходят
		{"CLOSED → OPEN", models.PositionClosed, models.PositionOpen},
		{"CLOSED → EOD_CLOSE", models.PositionClosed, models.PositionEODClose},
		{"CANCELLED → PENDING", models.PositionCancelled, models.PositionPending},
		{"unknown state", models.PositionStatus("UNKNOWN"), models.PositionOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = true, want false", tt.from, tt.to)
			}
		})
	}
}

// TestCanTransition_TerminalStatesHaveNoExits конечные состояния без исходящих переходов
func TestCanTransition_TerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []models.PositionStatus{models.PositionClosed, models.PositionCancelled} {
		if len(ValidTransitions[s]) != 0 {
			t.Errorf("terminal state %s has transitions %v", s, ValidTransitions[s])
		}
		if !s.IsFinal() {
			t.Errorf("%s must be final", s)
		}
	}
}

// TestCanTransition_ClosingStatesLeadOnlyToClosed каждое состояние закрытия ведёт только в CLOSED
func TestCanTransition_ClosingStatesLeadOnlyToClosed(t *testing.T) {
	for from, targets := range ValidTransitions {
		if !from.IsClosing() {
			continue
		}
		if len(targets) != 1 || targets[0] != models.PositionClosed {
			t.Errorf("%s → %v, want only CLOSED", from, targets)
		}
	}
}

func TestTransition(t *testing.T) {
	p := &models.Position{ID: "pos-1", Status: models.PositionPending}

	if err := transition(p, models.PositionOpen); err != nil {
		t.Fatalf("PENDING → OPEN: %v", err)
	}
	err := transition(p, models.PositionPending)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if p.Status != models.PositionOpen {
		t.Errorf("failed transition must not change status, got %s", p.Status)
	}
}

func TestStateInfo(t *testing.T) {
	for s := range ValidTransitions {
		if StateInfo(s) == "Неизвестное состояние" {
			t.Errorf("missing description for %s", s)
		}
	}
	if StateInfo(models.PositionClosed) == "Неизвестное состояние" {
		t.Error("missing description for CLOSED")
	}
	if StateInfo("BOGUS") != "Неизвестное состояние" {
		t.Error("unknown state must be reported as such")
	}
}
