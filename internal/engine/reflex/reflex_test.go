package reflex

import (
	"context"
	"testing"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
)

func signal(volume float64) domain.SignalVector {
	return domain.SignalVector{Readings: []domain.Reading{{Name: "volume", Value: volume}}}
}

func TestPropose_PicksTheBestLearnedAction(t *testing.T) {
	e := New()
	ctx := context.Background()

	state := domain.EngineState{Weights: map[string]float64{"buy": 0.2, "sell": 0.9, "hold": 0.1}}
	p, err := e.Propose(ctx, signal(0.5), state)
	if err != nil {
		t.Fatalf("Propose() error: %v", err)
	}
	if p == nil || p.Action != domain.ActionSell {
		t.Fatalf("expected the highest-weight action, got %+v", p)
	}
}

func TestPropose_FlatWeightsFallToFixedActionOrder(t *testing.T) {
	e := New()
	p, err := e.Propose(context.Background(), signal(0.5), domain.EngineState{Weights: map[string]float64{}})
	if err != nil {
		t.Fatalf("Propose() error: %v", err)
	}
	// All weights zero: the first action in the fixed order wins, so the
	// choice stays deterministic across processes.
	if p == nil || p.Action != domain.ActionBuy {
		t.Fatalf("expected buy on flat weights, got %+v", p)
	}
}

func TestPropose_SleepsBelowVolumeTrigger(t *testing.T) {
	e := New()
	p, err := e.Propose(context.Background(), signal(-0.9), domain.EngineState{})
	if err != nil {
		t.Fatalf("Propose() error: %v", err)
	}
	if p != nil {
		t.Fatalf("expected abstention below the volume trigger, got %+v", p)
	}
}

func TestConfidence_StrictlyIncreasingInLearnedWeight(t *testing.T) {
	e := New()
	ctx := context.Background()

	prev := -1.0
	for w := 0.25; w <= 3.0; w += 0.25 {
		state := domain.EngineState{Weights: map[string]float64{"hold": w}}
		p, err := e.Propose(ctx, signal(0.5), state)
		if err != nil {
			t.Fatalf("Propose() error: %v", err)
		}
		if p.Action != domain.ActionHold {
			t.Fatalf("weight %v should make hold the best action, got %s", w, p.Action)
		}
		if p.Confidence <= prev {
			t.Fatalf("confidence not strictly increasing at weight %v", w)
		}
		prev = p.Confidence
	}
}
