package sensor

import (
	"github.com/albertklubabot-sketch/gie20/internal/feed"
)

// Volume flags unusual traded volume against its rolling baseline.
type Volume struct {
	Window       int
	BaseLevel    float64
	LearningRate float64

	State AdaptiveState `persistence:"volume_state"`
}

func NewVolume() *Volume {
	return &Volume{Window: 120, BaseLevel: 1.0, LearningRate: 0.05}
}

func (v *Volume) Name() string { return "volume" }

func (v *Volume) Read(tick feed.Tick) float64 {
	vol, _ := tick.Volume.Float64()
	mean, std := v.State.Observe(vol, v.Window, v.BaseLevel, v.LearningRate, 0.11)
	return zscore(vol, mean, std)
}
