// Package feedback closes the learning loop: realized outcomes update the
// selected engine's learned weight for the action it took, exactly once per
// decision no matter how many times the outcome is delivered.
package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/knowledge"
	"github.com/albertklubabot-sketch/gie20/internal/metrics"
)

var log = logrus.WithField("component", "feedback")

var (
	// ErrUnknownDecision reports an outcome for a decision never recorded.
	ErrUnknownDecision = errors.New("outcome references unknown decision")
	// ErrAlreadyResolved reports a redelivered outcome; safe to ignore.
	ErrAlreadyResolved = errors.New("decision already resolved")
)

// Store is the slice of the knowledge store the loop needs.
type Store interface {
	Get(engineID string) (domain.EngineState, error)
	CompareAndUpdate(engineID string, expectedVersion uint64, newWeights map[string]float64) (domain.EngineState, error)
}

// DecisionLog is the slice of the decision log the loop needs.
type DecisionLog interface {
	Get(ctx context.Context, id string) (*domain.Decision, error)
	ClaimResolved(ctx context.Context, id string, reward decimal.Decimal, at time.Time) (bool, error)
}

// Loop applies outcomes to the knowledge store.
type Loop struct {
	store        Store
	dlog         DecisionLog
	learningRate float64
	maxRetries   int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLoop(store Store, dlog DecisionLog, learningRate float64, maxRetries int) *Loop {
	return &Loop{
		store:        store,
		dlog:         dlog,
		learningRate: learningRate,
		maxRetries:   maxRetries,
		locks:        make(map[string]*sync.Mutex),
	}
}

// Resolve records one outcome. The first delivery wins: the selected
// engine's weight for the taken action moves toward the realized reward by
// the learning rate, and the decision flips to resolved. Redeliveries get
// ErrAlreadyResolved and change nothing.
func (l *Loop) Resolve(ctx context.Context, out domain.Outcome) error {
	unlock := l.lockDecision(out.DecisionID)
	defer unlock()

	decision, err := l.dlog.Get(ctx, out.DecisionID)
	if err != nil {
		return errors.Wrap(err, "load decision")
	}
	if decision == nil {
		metrics.OutcomesRejected.Add(1)
		return errors.Wrap(ErrUnknownDecision, out.DecisionID)
	}
	if decision.Status == domain.StatusResolved {
		metrics.OutcomesRejected.Add(1)
		return errors.Wrap(ErrAlreadyResolved, out.DecisionID)
	}

	// Degraded decisions carry no engine to credit; they resolve without
	// touching the knowledge store.
	if decision.Selected.EngineID != "" {
		if err := l.applyReward(decision, out); err != nil {
			return err
		}
	}

	claimed, err := l.dlog.ClaimResolved(ctx, out.DecisionID, out.RealizedReward, out.ResolvedAt)
	if err != nil {
		return errors.Wrap(err, "claim resolved")
	}
	if !claimed {
		metrics.OutcomesRejected.Add(1)
		return errors.Wrap(ErrAlreadyResolved, out.DecisionID)
	}
	metrics.OutcomesResolved.Add(1)
	log.Infof("decision %s resolved: engine=%s action=%s reward=%s",
		out.DecisionID, decision.Selected.EngineID, decision.Selected.Action, out.RealizedReward)
	return nil
}

// applyReward moves w[action] toward the reward with an exponential moving
// average, retrying on version conflicts with concurrent sync merges.
func (l *Loop) applyReward(decision *domain.Decision, out domain.Outcome) error {
	engineID := decision.Selected.EngineID
	action := string(decision.Selected.Action)
	reward, _ := out.RealizedReward.Float64()

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		state, err := l.store.Get(engineID)
		if err != nil {
			return errors.Wrapf(err, "read state for engine %s", engineID)
		}

		weights := state.CloneWeights()
		weights[action] = (1-l.learningRate)*weights[action] + l.learningRate*reward

		_, err = l.store.CompareAndUpdate(engineID, state.Version, weights)
		if err == nil {
			return nil
		}
		if !errors.Is(err, knowledge.ErrVersionConflict) {
			return errors.Wrapf(err, "update state for engine %s", engineID)
		}
		metrics.VersionConflicts.Add(1)
		log.Debugf("version conflict on engine %s, retry %d/%d", engineID, attempt+1, l.maxRetries)
	}
	return errors.Errorf("engine %s: version conflict persisted after %d retries", engineID, l.maxRetries)
}

func (l *Loop) lockDecision(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
