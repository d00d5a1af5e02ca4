package sensor

import (
	"github.com/albertklubabot-sketch/gie20/internal/feed"
)

// Pressure tracks signed mid price momentum weighted by traded volume.
// Positive readings mean buy side pressure, negative sell side.
type Pressure struct {
	Window       int
	BaseLevel    float64
	LearningRate float64

	State   AdaptiveState `persistence:"pressure_state"`
	lastMid float64
	primed  bool
}

func NewPressure() *Pressure {
	return &Pressure{Window: 120, BaseLevel: 1.0, LearningRate: 0.05}
}

func (p *Pressure) Name() string { return "pressure" }

func (p *Pressure) Read(tick feed.Tick) float64 {
	mid, _ := tick.Mid().Float64()
	vol, _ := tick.Volume.Float64()
	if !p.primed {
		p.primed = true
		p.lastMid = mid
		return 0
	}
	pressure := (mid - p.lastMid) * (1 + vol)
	p.lastMid = mid
	mean, std := p.State.Observe(pressure, p.Window, p.BaseLevel, p.LearningRate, 0.14)
	return zscore(pressure, mean, std)
}
