// Package aggressive implements the momentum chasing reference engine. It
// proposes in the direction of market pressure as soon as pressure clears a
// low bar, trading precision for participation.
package aggressive

import (
	"context"
	"fmt"
	"math"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/engine"
)

const ID = "aggressive"

func init() {
	engine.Register(ID, func() engine.Engine { return New() })
}

type Aggressive struct {
	// EntryThreshold is the minimum |pressure| reading to act on.
	EntryThreshold float64
	// Hunger scales how much raw pressure feeds confidence.
	Hunger float64
	// WeightGain scales how much the learned action weight feeds
	// confidence. Must stay positive so that a better learned weight
	// always means higher confidence.
	WeightGain float64
}

func New() *Aggressive {
	return &Aggressive{EntryThreshold: 0.1, Hunger: 1.0, WeightGain: 2.0}
}

func (a *Aggressive) ID() string { return ID }

func (a *Aggressive) RequiredSignals() []string { return []string{"pressure", "noise"} }

func (a *Aggressive) Configure(params map[string]float64) error {
	for key, v := range params {
		switch key {
		case "entry_threshold":
			a.EntryThreshold = v
		case "hunger":
			a.Hunger = v
		case "weight_gain":
			a.WeightGain = v
		default:
			return fmt.Errorf("unknown param %s", key)
		}
	}
	return nil
}

func (a *Aggressive) Validate() error {
	if a.WeightGain <= 0 {
		return fmt.Errorf("weight_gain must be positive, got %f", a.WeightGain)
	}
	if a.EntryThreshold < 0 || a.EntryThreshold >= 1 {
		return fmt.Errorf("entry_threshold must be in [0,1), got %f", a.EntryThreshold)
	}
	return nil
}

func (a *Aggressive) Propose(ctx context.Context, sig domain.SignalVector, state domain.EngineState) (*domain.Proposal, error) {
	pressure, ok := sig.Get("pressure")
	if !ok {
		return nil, fmt.Errorf("signal vector missing pressure")
	}
	if math.Abs(pressure) < a.EntryThreshold {
		return nil, nil
	}

	action := domain.ActionBuy
	if pressure < 0 {
		action = domain.ActionSell
	}

	drive := a.Hunger * math.Abs(pressure)
	confidence := engine.Sigmoid(drive + a.WeightGain*state.Weight(string(action)))
	return &domain.Proposal{
		EngineID:   ID,
		Action:     action,
		Confidence: confidence,
		Rationale: map[string]string{
			"pressure": fmt.Sprintf("%.3f", pressure),
			"drive":    fmt.Sprintf("%.3f", drive),
		},
	}, nil
}
