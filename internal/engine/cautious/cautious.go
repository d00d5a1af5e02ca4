// Package cautious implements the capital preserving reference engine. It
// abstains in noisy markets, demands strong pressure before taking a side,
// and otherwise proposes to hold.
package cautious

import (
	"context"
	"fmt"
	"math"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/engine"
)

const ID = "cautious"

func init() {
	engine.Register(ID, func() engine.Engine { return New() })
}

type Cautious struct {
	// RiskAversion in [0,1]; higher means the engine abstains earlier
	// when noise rises and demands stronger pressure to take a side.
	RiskAversion float64
	// NoiseCeiling is the noise reading above which the engine abstains
	// entirely rather than risk a call on unreliable data.
	NoiseCeiling float64
	WeightGain   float64
}

func New() *Cautious {
	return &Cautious{RiskAversion: 0.8, NoiseCeiling: 0.7, WeightGain: 1.5}
}

func (c *Cautious) ID() string { return ID }

func (c *Cautious) RequiredSignals() []string { return []string{"noise", "pressure", "volume"} }

func (c *Cautious) Configure(params map[string]float64) error {
	for key, v := range params {
		switch key {
		case "risk_aversion":
			c.RiskAversion = v
		case "noise_ceiling":
			c.NoiseCeiling = v
		case "weight_gain":
			c.WeightGain = v
		default:
			return fmt.Errorf("unknown param %s", key)
		}
	}
	return nil
}

func (c *Cautious) Validate() error {
	if c.RiskAversion < 0 || c.RiskAversion > 1 {
		return fmt.Errorf("risk_aversion must be in [0,1], got %f", c.RiskAversion)
	}
	if c.WeightGain <= 0 {
		return fmt.Errorf("weight_gain must be positive, got %f", c.WeightGain)
	}
	return nil
}

func (c *Cautious) Propose(ctx context.Context, sig domain.SignalVector, state domain.EngineState) (*domain.Proposal, error) {
	noise, ok := sig.Get("noise")
	if !ok {
		return nil, fmt.Errorf("signal vector missing noise")
	}
	pressure, ok := sig.Get("pressure")
	if !ok {
		return nil, fmt.Errorf("signal vector missing pressure")
	}

	if math.Abs(noise) > c.NoiseCeiling {
		return nil, nil
	}

	// The bar for taking a side rises with risk aversion.
	entryBar := 0.3 + 0.5*c.RiskAversion
	action := domain.ActionHold
	if pressure > entryBar {
		action = domain.ActionBuy
	} else if pressure < -entryBar {
		action = domain.ActionSell
	}

	calm := 1 - math.Abs(noise)
	confidence := engine.Sigmoid(calm*(1-c.RiskAversion) + c.WeightGain*state.Weight(string(action)))
	return &domain.Proposal{
		EngineID:   ID,
		Action:     action,
		Confidence: confidence,
		Rationale: map[string]string{
			"noise":    fmt.Sprintf("%.3f", noise),
			"pressure": fmt.Sprintf("%.3f", pressure),
			"bar":      fmt.Sprintf("%.2f", entryBar),
		},
	}, nil
}
