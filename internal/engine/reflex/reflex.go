// Package reflex implements the self referential reference engine. It leans
// almost entirely on what it has learned so far, proposing the action with
// the highest learned weight and using the current tick only as a trigger.
package reflex

import (
	"context"
	"fmt"
	"math"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/engine"
)

const ID = "reflex"

func init() {
	engine.Register(ID, func() engine.Engine { return New() })
}

type Reflex struct {
	// Curiosity in [0,1] shifts confidence toward acting even when the
	// learned weights are flat.
	Curiosity float64
	// VolumeTrigger is the minimum volume reading required to wake up at
	// all; below it the engine abstains.
	VolumeTrigger float64
	WeightGain    float64
}

func New() *Reflex {
	return &Reflex{Curiosity: 0.5, VolumeTrigger: -0.5, WeightGain: 3.0}
}

func (r *Reflex) ID() string { return ID }

func (r *Reflex) RequiredSignals() []string { return []string{"volume"} }

func (r *Reflex) Configure(params map[string]float64) error {
	for key, v := range params {
		switch key {
		case "curiosity":
			r.Curiosity = v
		case "volume_trigger":
			r.VolumeTrigger = v
		case "weight_gain":
			r.WeightGain = v
		default:
			return fmt.Errorf("unknown param %s", key)
		}
	}
	return nil
}

func (r *Reflex) Validate() error {
	if r.Curiosity < 0 || r.Curiosity > 1 {
		return fmt.Errorf("curiosity must be in [0,1], got %f", r.Curiosity)
	}
	if r.WeightGain <= 0 {
		return fmt.Errorf("weight_gain must be positive, got %f", r.WeightGain)
	}
	return nil
}

func (r *Reflex) Propose(ctx context.Context, sig domain.SignalVector, state domain.EngineState) (*domain.Proposal, error) {
	volume, ok := sig.Get("volume")
	if !ok {
		return nil, fmt.Errorf("signal vector missing volume")
	}
	if volume < r.VolumeTrigger {
		return nil, nil
	}

	// Pick the action history favors; ties resolve in the fixed action
	// order so repeated calls stay deterministic.
	best := domain.ActionHold
	bestW := math.Inf(-1)
	for _, action := range domain.Actions() {
		if w := state.Weight(string(action)); w > bestW {
			best, bestW = action, w
		}
	}

	confidence := engine.Sigmoid(r.Curiosity + r.WeightGain*state.Weight(string(best)))
	return &domain.Proposal{
		EngineID:   ID,
		Action:     best,
		Confidence: confidence,
		Rationale: map[string]string{
			"volume":      fmt.Sprintf("%.3f", volume),
			"best_weight": fmt.Sprintf("%.3f", bestW),
		},
	}, nil
}
