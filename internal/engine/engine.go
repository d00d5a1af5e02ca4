package engine

import (
	"context"
	"math"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
)

// Engine is the pluggable strategy capability. An engine is stateless
// between calls except through the EngineState it is handed; it must never
// mutate that state; learned updates flow only through the feedback loop.
type Engine interface {
	// ID is the unique engine identifier. Duplicate IDs are a fatal
	// configuration error caught at registration.
	ID() string
	// RequiredSignals declares the reading names the engine needs.
	// Engines whose requirements the sensor set cannot satisfy are
	// excluded at startup with a reported error, not at decision time.
	RequiredSignals() []string
	// Propose returns the engine's candidate for this cycle, or nil to
	// abstain. Implementations should return promptly and respect ctx:
	// the decision core treats a deadline overrun as "no proposal".
	Propose(ctx context.Context, sig domain.SignalVector, state domain.EngineState) (*domain.Proposal, error)
}

// Configurable is an optional interface: engines that accept tuning
// parameters from configuration implement it.
type Configurable interface {
	Configure(params map[string]float64) error
}

// Validator is an optional interface checked after configuration.
type Validator interface {
	Validate() error
}

// Sigmoid squashes x into (0,1). Shared by the reference engines so that
// confidence is strictly increasing in the learned action weight.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Clamp01 clamps x into [0,1].
func Clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
