package betting

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "AgentBet-Chain/internal/errors"
	"AgentBet-Chain/internal/observability/alerting"
	"AgentBet-Chain/internal/storage/mysql"
	"AgentBet-Chain/pkg/logger"
)

// Service 驱动阶段状态机周期性运行，并负责落库与告警。
type Service struct {
	sequencer *Sequencer
	runs      mysql.RunRepository
	alerter   alerting.Dispatcher
	interval  time.Duration
	logger    *slog.Logger
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ServiceOption {
	return func(s *Service) {
		s.alerter = dispatcher
	}
}

// WithRunInterval 设置两轮运行之间的间隔。
func WithRunInterval(interval time.Duration) ServiceOption {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// NewService 构造运行服务。
func NewService(sequencer *Sequencer, runs mysql.RunRepository, opts ...ServiceOption) *Service {
	s := &Service{
		sequencer: sequencer,
		runs:      runs,
		interval:  time.Minute,
		logger:    logger.Named("betting_service"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start registers the stage table with the coordinator and runs rounds until
// the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if s.sequencer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置阶段状态机")
	}
	if err := s.sequencer.Register(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes one full run and persists its outcome. The run identity
// is assigned by the coordinator; the locally generated record id only keys
// this replica's persistence row.
func (s *Service) RunOnce(ctx context.Context) (RunResult, error) {
	runID, err := s.sequencer.OpenRun(ctx)
	if err != nil {
		s.logger.Error("申请运行轮次失败", slog.Any("error", err))
		return RunResult{}, err
	}
	s.logger.Info("开始新一轮运行", slog.String("run_id", runID))

	result, runErr := s.sequencer.Run(ctx, runID)
	if runErr != nil {
		s.logger.Error("运行失败",
			slog.String("run_id", runID),
			slog.Any("error", runErr),
		)
		s.alert(ctx, runID, result, runErr)
	} else {
		s.logger.Info("运行结束",
			slog.String("run_id", runID),
			slog.String("final_stage", string(result.FinalStage)),
			slog.String("event", string(result.Event)),
			slog.String("tx_hash", result.Data.TxHash),
		)
	}

	s.persist(ctx, result)
	return result, runErr
}

func (s *Service) persist(ctx context.Context, result RunResult) {
	if s.runs == nil {
		return
	}
	record := mysql.RunRecord{
		ID:              uuid.NewString(),
		RunID:           result.RunID,
		FinalStage:      string(result.FinalStage),
		Event:           string(result.Event),
		BettingResult:   result.Data.BettingResult,
		BettingIPFSHash: result.Data.BettingIPFSHash,
		HasPlacedBet:    result.Data.HasPlacedBet,
		TxHash:          result.Data.TxHash,
		TxSubmitter:     result.Data.TxSubmitter,
		CreatedAt:       result.FinishedAt.Unix(),
	}
	if err := s.runs.Save(ctx, record); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeRunPersistence, err, "保存运行记录失败")
		s.logger.Error("落库失败", slog.String("run_id", result.RunID), slog.Any("error", wrapped))
	}
}

func (s *Service) alert(ctx context.Context, runID string, result RunResult, runErr error) {
	if s.alerter == nil || !xerrors.ShouldAlertError(runErr) {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(runErr),
		Message:    runErr.Error(),
		Severity:   xerrors.SeverityCritical,
		RunID:      runID,
		Stage:      string(result.FinalStage),
		OccurredAt: time.Now(),
	}
	if e, ok := xerrors.From(runErr); ok {
		event.Severity = e.Severity()
		event.Metadata = e.Metadata()
	}
	if err := s.alerter.Notify(ctx, event); err != nil {
		s.logger.Warn("派发告警失败", slog.Any("error", err))
	}
}
