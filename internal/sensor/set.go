package sensor

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/feed"
	"github.com/albertklubabot-sketch/gie20/pkg/persistence"
)

var setLog = logrus.WithField("component", "sensor")

// Set is a fixed, ordered collection of sensors. The order of names in
// Shape is the order of readings in every vector Collect produces, so
// engines can rely on a stable layout for the lifetime of the process.
type Set struct {
	sensors []Sensor
	shape   []string
}

// NewSet builds a set from the given sensors. Names must be unique.
func NewSet(sensors ...Sensor) (*Set, error) {
	seen := make(map[string]struct{}, len(sensors))
	shape := make([]string, 0, len(sensors))
	for _, s := range sensors {
		if _, ok := seen[s.Name()]; ok {
			return nil, errors.Errorf("duplicate sensor name %s", s.Name())
		}
		seen[s.Name()] = struct{}{}
		shape = append(shape, s.Name())
	}
	return &Set{sensors: sensors, shape: shape}, nil
}

// Shape returns the ordered reading names.
func (s *Set) Shape() []string {
	out := make([]string, len(s.shape))
	copy(out, s.shape)
	return out
}

// Collect reads every sensor against the tick and assembles the vector.
func (s *Set) Collect(tick feed.Tick) domain.SignalVector {
	readings := make([]domain.Reading, 0, len(s.sensors))
	for _, sensor := range s.sensors {
		readings = append(readings, domain.Reading{
			Name:  sensor.Name(),
			Value: sensor.Read(tick),
		})
	}
	return domain.SignalVector{Readings: readings, Timestamp: tick.Time}
}

// LoadState restores each sensor's persisted adaptive state.
func (s *Set) LoadState(service persistence.Service) error {
	for _, sensor := range s.sensors {
		if err := persistence.LoadFields(sensor, sensor.Name(), service); err != nil {
			return errors.Wrapf(err, "load sensor %s state", sensor.Name())
		}
	}
	return nil
}

// SaveState snapshots each sensor's adaptive state.
func (s *Set) SaveState(service persistence.Service) error {
	for _, sensor := range s.sensors {
		if err := persistence.SaveFields(sensor, sensor.Name(), service); err != nil {
			setLog.WithError(err).Warnf("save sensor %s state failed", sensor.Name())
			return err
		}
	}
	return nil
}
