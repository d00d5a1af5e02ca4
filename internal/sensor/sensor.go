package sensor

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/albertklubabot-sketch/gie20/internal/feed"
)

// Sensor condenses a raw tick into one named reading. Readings are
// normalized so engines can consume them without knowing the source.
type Sensor interface {
	Name() string
	Read(tick feed.Tick) float64
}

// AdaptiveState is the rolling baseline a sensor keeps across restarts.
// The buffer holds recent raw values; the adaptive level tracks how much
// deviation currently counts as an anomaly, and hunger grows while the
// market stays quiet.
type AdaptiveState struct {
	Buffer        []float64 `json:"buffer"`
	AdaptiveLevel float64   `json:"adaptive_level"`
	Hunger        float64   `json:"hunger"`
}

// Observe pushes a raw value into the window and re-derives the baseline.
// Returns the window mean and standard deviation.
func (s *AdaptiveState) Observe(v float64, window int, baseLevel, learningRate, hungerStep float64) (mean, std float64) {
	s.Buffer = append(s.Buffer, v)
	if len(s.Buffer) > window {
		s.Buffer = s.Buffer[len(s.Buffer)-window:]
	}
	mean, std = meanStd(s.Buffer)
	s.AdaptiveLevel = baseLevel + learningRate*(std+s.Hunger)
	if math.Abs(v-mean) > s.AdaptiveLevel*2 {
		s.Hunger = math.Max(0, s.Hunger-1)
	} else {
		s.Hunger += hungerStep
	}
	return mean, std
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}

// zscore squashes a deviation into [-1, 1].
func zscore(v, mean, std float64) float64 {
	if std < 1e-9 {
		return 0
	}
	return math.Tanh((v - mean) / (2 * std))
}

// Build instantiates sensors by name. An empty list enables all of them.
func Build(names []string) ([]Sensor, error) {
	factories := map[string]func() Sensor{
		"noise":    func() Sensor { return NewNoise() },
		"pressure": func() Sensor { return NewPressure() },
		"volume":   func() Sensor { return NewVolume() },
	}
	if len(names) == 0 {
		for name := range factories {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	var sensors []Sensor
	seen := make(map[string]struct{})
	for _, name := range names {
		if _, ok := seen[name]; ok {
			return nil, errors.Errorf("sensor %s listed twice", name)
		}
		seen[name] = struct{}{}
		factory, ok := factories[name]
		if !ok {
			return nil, errors.Errorf("unknown sensor %s", name)
		}
		sensors = append(sensors, factory())
	}
	return sensors, nil
}
