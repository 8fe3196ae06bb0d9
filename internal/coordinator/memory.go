package coordinator

import (
	"context"
	"sync"
	"time"

	xerrors "AgentBet-Chain/internal/errors"
)

type localRound struct {
	payloads map[string][]byte
	agreed   []byte
	done     chan struct{}
}

// Local is an in-process coordinator used for single-replica deployments and
// tests. With threshold 1 it commits immediately; with a higher threshold it
// suspends submitters until enough local senders have proposed.
type Local struct {
	mu        sync.Mutex
	threshold int
	rounds    map[string]*localRound
	tickets   int64
	clock     int64
	pinned    bool
	reg       *StageRegistration
}

// NewLocal 构造内存协调器。
func NewLocal(threshold int) *Local {
	if threshold <= 0 {
		threshold = 1
	}
	return &Local{
		threshold: threshold,
		rounds:    make(map[string]*localRound),
	}
}

// NextRound hands out the next ticket and maps it onto a run identity. Every
// consecutive group of <threshold> tickets shares one identity, so replicas
// arriving for the same logical run join the same rounds.
func (l *Local) NextRound(_ context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tickets++
	return roundName(runIndex(l.tickets, int64(l.threshold))), nil
}

// Submit proposes a payload and suspends until the round commits.
func (l *Local) Submit(ctx context.Context, p Payload) ([]byte, error) {
	l.mu.Lock()
	round, ok := l.rounds[p.Round]
	if !ok {
		round = &localRound{
			payloads: make(map[string][]byte),
			done:     make(chan struct{}),
		}
		l.rounds[p.Round] = round
	}
	round.payloads[p.Sender] = append([]byte(nil), p.Data...)
	if round.agreed == nil && len(round.payloads) >= l.threshold {
		candidates := make([][]byte, 0, len(round.payloads))
		for _, data := range round.payloads {
			candidates = append(candidates, data)
		}
		round.agreed = Agree(candidates)
		if !l.pinned {
			l.clock = time.Now().Unix()
		}
		close(round.done)
	}
	done := round.done
	l.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, xerrors.Wrap(xerrors.CodeAgreementFailure, ctx.Err(), "等待本地协调器超时")
	}

	l.mu.Lock()
	agreed := append([]byte(nil), round.agreed...)
	l.mu.Unlock()
	return agreed, nil
}

// AwaitSynchronizedClock returns the timestamp recorded at the last
// agreement commit. SetSynchronizedClock overrides it for tests.
func (l *Local) AwaitSynchronizedClock(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clock != 0 {
		return l.clock, nil
	}
	return time.Now().Unix(), nil
}

// SetSynchronizedClock pins the synchronized clock to a fixed value. A
// pinned clock is no longer advanced by agreement commits.
func (l *Local) SetSynchronizedClock(ts int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = ts
	l.pinned = true
}

// RegisterStages records the stage table for inspection.
func (l *Local) RegisterStages(_ context.Context, reg StageRegistration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reg = &reg
	return nil
}

// Registration returns the last registered stage table, or nil.
func (l *Local) Registration() *StageRegistration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reg
}
