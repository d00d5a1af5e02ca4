package domain

import (
	"testing"
	"testing/quick"
)

func TestSignalVector_ShapeAndGet(t *testing.T) {
	v := SignalVector{Readings: []Reading{
		{Name: "noise", Value: 0.1},
		{Name: "pressure", Value: -0.4},
		{Name: "volume", Value: 0.9},
	}}

	shape := v.Shape()
	want := []string{"noise", "pressure", "volume"}
	for i, name := range want {
		if shape[i] != name {
			t.Fatalf("shape[%d] = %q, want %q", i, shape[i], name)
		}
	}

	if got, ok := v.Get("pressure"); !ok || got != -0.4 {
		t.Fatalf("Get(pressure) = %v, %v", got, ok)
	}
	if _, ok := v.Get("missing"); ok {
		t.Fatal("Get(missing) reported presence")
	}
	if !v.HasShape([]string{"noise", "volume"}) {
		t.Fatal("HasShape rejected a satisfied subset")
	}
	if v.HasShape([]string{"noise", "spread"}) {
		t.Fatal("HasShape accepted a missing name")
	}
}

func TestWeightsChecksum_IndependentOfInsertionOrder(t *testing.T) {
	f := func(buy, sell, hold float64) bool {
		a := map[string]float64{"buy": buy, "sell": sell, "hold": hold}
		b := map[string]float64{"hold": hold, "buy": buy, "sell": sell}
		return WeightsChecksum(a) == WeightsChecksum(b)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestWeightsChecksum_SensitiveToValues(t *testing.T) {
	a := map[string]float64{"buy": 0.5}
	b := map[string]float64{"buy": 0.5000001}
	if WeightsChecksum(a) == WeightsChecksum(b) {
		t.Fatal("checksum did not change with the weight value")
	}
	if WeightsChecksum(a) != WeightsChecksum(map[string]float64{"buy": 0.5}) {
		t.Fatal("checksum is not deterministic")
	}
}

func TestCloneWeights_IsDetached(t *testing.T) {
	s := EngineState{Weights: map[string]float64{"buy": 1}}
	w := s.CloneWeights()
	w["buy"] = 2
	if s.Weights["buy"] != 1 {
		t.Fatal("CloneWeights shares the underlying map")
	}
}
