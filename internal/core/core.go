// Package core runs the decision cycle: it fans a signal vector out to every
// engine in parallel, arbitrates the returned proposals deterministically and
// records an auditable decision for each cycle.
package core

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/engine"
	"github.com/albertklubabot-sketch/gie20/internal/metrics"
	"github.com/albertklubabot-sketch/gie20/pkg/syncgroup"
)

var log = logrus.WithField("component", "core")

// StateReader hands the core the current learned state per engine.
type StateReader interface {
	Get(engineID string) (domain.EngineState, error)
}

// DecisionWriter persists completed decisions.
type DecisionWriter interface {
	Insert(ctx context.Context, d domain.Decision) error
}

// Core drives one decision per signal vector.
type Core struct {
	engines []engine.Engine
	states  StateReader
	dlog    DecisionWriter
	timeout time.Duration
}

// New wires the core. Engines whose required signals the sensor shape does
// not provide are excluded here, once, with a logged error; a duplicate
// engine ID is a configuration bug and fails construction.
func New(engines []engine.Engine, shape []string, states StateReader, dlog DecisionWriter, timeout time.Duration) (*Core, error) {
	if timeout <= 0 {
		return nil, errors.New("arbitration timeout must be positive")
	}

	available := make(map[string]struct{}, len(shape))
	for _, name := range shape {
		available[name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(engines))
	var usable []engine.Engine
	for _, e := range engines {
		if _, dup := seen[e.ID()]; dup {
			return nil, errors.Errorf("duplicate engine id %s", e.ID())
		}
		seen[e.ID()] = struct{}{}

		missing := missingSignals(e.RequiredSignals(), available)
		if len(missing) > 0 {
			log.Errorf("engine %s excluded: sensor set lacks signals %v", e.ID(), missing)
			continue
		}
		usable = append(usable, e)
	}
	if len(usable) == 0 {
		return nil, errors.New("no engine is compatible with the configured sensor shape")
	}

	return &Core{engines: usable, states: states, dlog: dlog, timeout: timeout}, nil
}

// Engines returns the IDs of the engines that survived shape validation.
func (c *Core) Engines() []string {
	ids := make([]string, 0, len(c.engines))
	for _, e := range c.engines {
		ids = append(ids, e.ID())
	}
	return ids
}

func missingSignals(required []string, available map[string]struct{}) []string {
	var missing []string
	for _, name := range required {
		if _, ok := available[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// candidate pairs a proposal with the state version the engine saw, which
// feeds the deterministic tie break.
type candidate struct {
	proposal domain.Proposal
	version  uint64
}

// Decide runs one cycle against the given signal vector. Engines that miss
// the arbitration deadline contribute no proposal; if nobody proposes, the
// cycle degrades to a hold decision rather than failing. Cancellation of the
// parent context aborts the cycle without persisting anything.
func (c *Core) Decide(ctx context.Context, sig domain.SignalVector) (*domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proposeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make(chan *candidate, len(c.engines))
	group := syncgroup.NewSyncGroup()
	for _, e := range c.engines {
		e := e
		group.Add(func() {
			results <- c.propose(proposeCtx, e, sig)
		})
	}
	group.Run()

	done := make(chan struct{})
	go func() {
		group.Wait()
		close(done)
	}()

	// propose returns promptly once the deadline fires, so waiting for the
	// full fan-out is bounded by the arbitration timeout.
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	close(results)

	var candidates []candidate
	for cand := range results {
		if cand != nil {
			candidates = append(candidates, *cand)
		}
	}
	if stragglers := len(c.engines) - len(candidates); stragglers > 0 {
		// Includes engines that errored or abstained; true timeouts are
		// counted inside propose.
		log.Debugf("cycle collected %d/%d proposals", len(candidates), len(c.engines))
	}

	decision := c.assemble(sig, candidates)
	if err := c.dlog.Insert(ctx, decision); err != nil {
		return nil, errors.Wrap(err, "persist decision")
	}
	metrics.DecisionCycles.Add(1)
	return &decision, nil
}

// propose reads the engine's state and collects its proposal. Any failure
// maps to "no proposal": a misbehaving engine cannot take the cycle down.
func (c *Core) propose(ctx context.Context, e engine.Engine, sig domain.SignalVector) *candidate {
	state, err := c.states.Get(e.ID())
	if err != nil {
		log.WithError(err).Errorf("engine %s: read state", e.ID())
		metrics.EngineErrors.Add(1)
		return nil
	}

	type outcome struct {
		proposal *domain.Proposal
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		p, err := e.Propose(ctx, sig, state)
		ch <- outcome{proposal: p, err: err}
	}()

	select {
	case <-ctx.Done():
		metrics.EngineTimeouts.Add(1)
		log.Warnf("engine %s missed the arbitration deadline", e.ID())
		return nil
	case out := <-ch:
		if out.err != nil {
			log.WithError(out.err).Errorf("engine %s: propose", e.ID())
			metrics.EngineErrors.Add(1)
			return nil
		}
		if out.proposal == nil {
			return nil
		}
		p := *out.proposal
		p.EngineID = e.ID()
		p.Confidence = engine.Clamp01(p.Confidence)
		return &candidate{proposal: p, version: state.Version}
	}
}

// assemble arbitrates the candidates into a decision. Zero candidates
// degrade to hold.
func (c *Core) assemble(sig domain.SignalVector, candidates []candidate) domain.Decision {
	decision := domain.Decision{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Signal:    sig,
		Status:    domain.StatusPendingOutcome,
	}

	if len(candidates) == 0 {
		metrics.DecisionsDegraded.Add(1)
		log.Warn("no proposals this cycle, degrading to hold")
		decision.Degraded = true
		decision.Selected = domain.Proposal{Action: domain.ActionHold, Confidence: 0}
		return decision
	}

	arbitrate(candidates)
	decision.Selected = candidates[0].proposal
	decision.Proposals = make([]domain.Proposal, 0, len(candidates))
	for _, cand := range candidates {
		decision.Proposals = append(decision.Proposals, cand.proposal)
	}
	return decision
}

// arbitrate orders candidates by confidence, then by knowledge version
// (better trained first), then by engine ID. The ordering is total, so the
// same candidate set always yields the same winner.
func arbitrate(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.proposal.Confidence != b.proposal.Confidence {
			return a.proposal.Confidence > b.proposal.Confidence
		}
		if a.version != b.version {
			return a.version > b.version
		}
		return a.proposal.EngineID < b.proposal.EngineID
	})
}
