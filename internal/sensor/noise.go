package sensor

import (
	"math"

	"github.com/albertklubabot-sketch/gie20/internal/feed"
)

// Noise measures micro fluctuation of the mid price between ticks.
type Noise struct {
	Window       int
	BaseLevel    float64
	LearningRate float64

	State   AdaptiveState `persistence:"noise_state"`
	lastMid float64
	primed  bool
}

func NewNoise() *Noise {
	return &Noise{Window: 120, BaseLevel: 1.0, LearningRate: 0.05}
}

func (n *Noise) Name() string { return "noise" }

// Read returns how unusual the latest mid price jump is relative to the
// rolling baseline, in [-1, 1]. The first tick only primes the window.
func (n *Noise) Read(tick feed.Tick) float64 {
	mid, _ := tick.Mid().Float64()
	if !n.primed {
		n.primed = true
		n.lastMid = mid
		return 0
	}
	noise := math.Abs(mid - n.lastMid)
	n.lastMid = mid
	mean, std := n.State.Observe(noise, n.Window, n.BaseLevel, n.LearningRate, 0.1)
	return zscore(noise, mean, std)
}
