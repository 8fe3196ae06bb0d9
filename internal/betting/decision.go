package betting

import (
	"log/slog"

	"AgentBet-Chain/pkg/logger"
)

// DecisionMakingBehaviour decides whether the run transacts. It is a pure
// function over previously agreed facts; the only I/O is the final
// submit/await handled by the sequencer.
type DecisionMakingBehaviour struct {
	logger *slog.Logger
}

// NewDecisionMakingBehaviour 构造决策阶段。
func NewDecisionMakingBehaviour() *DecisionMakingBehaviour {
	return &DecisionMakingBehaviour{logger: logger.Named("decision_making")}
}

// NextEvent is the complete decision policy: transact exactly when the
// betting result is positive and no bet has been placed yet. The rule is
// total over all four boolean combinations.
func (b *DecisionMakingBehaviour) NextEvent(data SynchronizedData) Event {
	if data.BettingResult && !data.HasPlacedBet {
		return EventTransact
	}
	return EventDone
}

// Act computes the stage's candidate payload.
func (b *DecisionMakingBehaviour) Act(data SynchronizedData) DecisionMakingPayload {
	event := b.NextEvent(data)
	b.logger.Info("决策结果",
		slog.Bool("betting_result", data.BettingResult),
		slog.Bool("has_placed_bet", data.HasPlacedBet),
		slog.String("event", string(event)),
	)
	return DecisionMakingPayload{Event: string(event)}
}
