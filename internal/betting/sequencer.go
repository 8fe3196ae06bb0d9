package betting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"AgentBet-Chain/internal/coordinator"
	xerrors "AgentBet-Chain/internal/errors"
	"AgentBet-Chain/internal/observability/metrics"
	"AgentBet-Chain/pkg/logger"
)

// StageID 标识状态机中的一个阶段。
type StageID string

const (
	StageDataPull       StageID = "data_pull"
	StageDecisionMaking StageID = "decision_making"
	StageTxPreparation  StageID = "tx_preparation"
	StageDone           StageID = "done"
	StageFailed         StageID = "failed"
)

// Event 标识阶段完成后触发的状态转移事件。
type Event string

const (
	EventDone     Event = "done"
	EventTransact Event = "transact"
	EventError    Event = "error"
)

// transitions is the full transition table of the run state machine. The
// sequencer only ever moves along edges listed here.
var transitions = map[StageID]map[Event]StageID{
	StageDataPull: {
		EventDone: StageDecisionMaking,
	},
	StageDecisionMaking: {
		EventTransact: StageTxPreparation,
		EventDone:     StageDone,
	},
	StageTxPreparation: {
		EventDone:  StageDone,
		EventError: StageFailed,
	},
}

// RunResult 汇总一轮运行结束时的最终状态。
type RunResult struct {
	RunID      string
	FinalStage StageID
	Event      Event
	Data       SynchronizedData
	StartedAt  time.Time
	FinishedAt time.Time
}

// Sequencer wires the three stages into one application. It is a tagged
// state machine over StageID: each stage computes a candidate payload, the
// coordinator decides when agreement is reached, and only the agreed payload
// is committed to the synchronized store. The sequencer never advances on
// local results alone.
type Sequencer struct {
	coordinator coordinator.Client
	store       *Store
	sender      string
	dataPull    *DataPullBehaviour
	decision    *DecisionMakingBehaviour
	txPrep      *TxPreparationBehaviour
	logger      *slog.Logger
}

// NewSequencer 构造阶段状态机。sender 是本副本在协调器中的身份标识。
func NewSequencer(coord coordinator.Client, store *Store, sender string, dataPull *DataPullBehaviour, decision *DecisionMakingBehaviour, txPrep *TxPreparationBehaviour) *Sequencer {
	return &Sequencer{
		coordinator: coord,
		store:       store,
		sender:      sender,
		dataPull:    dataPull,
		decision:    decision,
		txPrep:      txPrep,
		logger:      logger.Named("sequencer"),
	}
}

// Registration exposes the stage set and transition table to the
// coordinator.
func (s *Sequencer) Registration() coordinator.StageRegistration {
	table := make(map[string]map[string]string, len(transitions))
	for stage, edges := range transitions {
		row := make(map[string]string, len(edges))
		for event, next := range edges {
			row[string(event)] = string(next)
		}
		table[string(stage)] = row
	}
	return coordinator.StageRegistration{
		Stages: []string{
			string(StageDataPull),
			string(StageDecisionMaking),
			string(StageTxPreparation),
		},
		Initial:     string(StageDataPull),
		Transitions: table,
	}
}

// Register announces the stage table to the coordinator.
func (s *Sequencer) Register(ctx context.Context) error {
	return s.coordinator.RegisterStages(ctx, s.Registration())
}

// OpenRun asks the coordinator for the identity of the next run. The
// identity comes from state shared by the replica set, so every replica of
// one logical run submits into the same stage rounds.
func (s *Sequencer) OpenRun(ctx context.Context) (string, error) {
	return s.coordinator.NextRound(ctx)
}

// Run drives one complete run from DataPull to a terminal stage.
func (s *Sequencer) Run(ctx context.Context, runID string) (RunResult, error) {
	s.store.Reset()
	result := RunResult{RunID: runID, StartedAt: time.Now()}

	current := StageDataPull
	for current != StageDone && current != StageFailed {
		stageStart := time.Now()
		event, err := s.runStage(ctx, runID, current)
		if err != nil {
			metrics.ObserveStage(string(current), "error", time.Since(stageStart))
			result.FinalStage = StageFailed
			result.Event = EventError
			result.FinishedAt = time.Now()
			result.Data = s.store.Snapshot()
			return result, err
		}
		metrics.ObserveStage(string(current), string(event), time.Since(stageStart))

		next, ok := transitions[current][event]
		if !ok {
			result.FinalStage = StageFailed
			result.Event = EventError
			result.FinishedAt = time.Now()
			result.Data = s.store.Snapshot()
			return result, xerrors.New(xerrors.CodeUnknown,
				fmt.Sprintf("阶段 %s 触发了未定义的事件 %s", current, event))
		}
		logger.Decision().Info("stage committed",
			slog.String("run_id", runID),
			slog.String("stage", string(current)),
			slog.String("event", string(event)),
			slog.String("next", string(next)),
		)
		result.Event = event
		current = next
	}

	result.FinalStage = current
	result.FinishedAt = time.Now()
	result.Data = s.store.Snapshot()
	return result, nil
}

func (s *Sequencer) runStage(ctx context.Context, runID string, stage StageID) (Event, error) {
	switch stage {
	case StageDataPull:
		return s.runDataPull(ctx, runID)
	case StageDecisionMaking:
		return s.runDecisionMaking(ctx, runID)
	case StageTxPreparation:
		return s.runTxPreparation(ctx, runID)
	default:
		return EventError, xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("未知阶段: %s", stage))
	}
}

func (s *Sequencer) runDataPull(ctx context.Context, runID string) (Event, error) {
	payload, err := s.dataPull.Act(ctx, s.store.Snapshot())
	if err != nil {
		return EventError, err
	}
	var agreed DataPullPayload
	if err := s.agree(ctx, runID, StageDataPull, payload, &agreed); err != nil {
		return EventError, err
	}
	s.store.commitDataPull(agreed)
	return EventDone, nil
}

func (s *Sequencer) runDecisionMaking(ctx context.Context, runID string) (Event, error) {
	payload := s.decision.Act(s.store.Snapshot())
	var agreed DecisionMakingPayload
	if err := s.agree(ctx, runID, StageDecisionMaking, payload, &agreed); err != nil {
		return EventError, err
	}
	switch Event(agreed.Event) {
	case EventTransact:
		return EventTransact, nil
	case EventDone:
		return EventDone, nil
	default:
		return EventError, xerrors.New(xerrors.CodeUnknown,
			fmt.Sprintf("决策阶段达成了未知事件 %q", agreed.Event))
	}
}

func (s *Sequencer) runTxPreparation(ctx context.Context, runID string) (Event, error) {
	payload, err := s.txPrep.Act(ctx, s.store.Snapshot())
	if err != nil {
		// Fatal stage error: nothing is submitted, the run fails here.
		return EventError, err
	}
	var agreed TxPreparationPayload
	if err := s.agree(ctx, runID, StageTxPreparation, payload, &agreed); err != nil {
		return EventError, err
	}
	s.store.commitTxPreparation(agreed)
	return EventDone, nil
}

// agree submits the payload for the stage's round and decodes the agreed
// value back into out. It suspends until the coordinator commits.
func (s *Sequencer) agree(ctx context.Context, runID string, stage StageID, payload any, out any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	agreed, err := s.coordinator.Submit(ctx, coordinator.Payload{
		Sender: s.sender,
		Round:  runID + ":" + string(stage),
		Data:   data,
	})
	if err != nil {
		s.logger.Error("阶段负载未能达成一致",
			slog.String("run_id", runID),
			slog.String("stage", string(stage)),
			slog.Any("error", err),
		)
		return err
	}
	return decodePayload(agreed, out)
}
