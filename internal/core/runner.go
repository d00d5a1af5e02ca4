package core

import (
	"context"
	"time"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/feed"
	"github.com/albertklubabot-sketch/gie20/internal/sensor"
	"github.com/albertklubabot-sketch/gie20/pkg/persistence"
)

// ActionSink receives every completed decision. The execution side (real
// broker, dry run printer, test recorder) lives behind this interface.
type ActionSink interface {
	Execute(ctx context.Context, d domain.Decision) error
}

// Runner pumps the feed through the sensor set and triggers one decision per
// cycle interval, using the freshest tick seen during the interval.
type Runner struct {
	core     *Core
	source   feed.Source
	sensors  *sensor.Set
	sink     ActionSink
	interval time.Duration
	persist  persistence.Service
}

func NewRunner(core *Core, source feed.Source, sensors *sensor.Set, sink ActionSink, interval time.Duration, persist persistence.Service) *Runner {
	return &Runner{
		core:     core,
		source:   source,
		sensors:  sensors,
		sink:     sink,
		interval: interval,
		persist:  persist,
	}
}

// Run blocks until ctx is canceled. Sensor state is snapshotted on exit so
// adaptive baselines survive restarts.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.source.Start(ctx); err != nil {
		return err
	}
	defer r.source.Stop()

	if r.persist != nil {
		if err := r.sensors.LoadState(r.persist); err != nil {
			log.WithError(err).Warn("sensor state not restored, starting cold")
		}
		defer func() {
			if err := r.sensors.SaveState(r.persist); err != nil {
				log.WithError(err).Error("sensor state snapshot failed")
			}
		}()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var (
		latest   feed.Tick
		haveTick bool
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case tick, ok := <-r.source.Ticks():
			if !ok {
				log.Warn("feed closed, stopping cycle loop")
				return nil
			}
			latest, haveTick = tick, true

		case <-ticker.C:
			if !haveTick {
				continue
			}
			sig := r.sensors.Collect(latest)
			decision, err := r.core.Decide(ctx, sig)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithError(err).Error("decision cycle failed")
				continue
			}
			if r.sink != nil {
				if err := r.sink.Execute(ctx, *decision); err != nil {
					log.WithError(err).Errorf("execute decision %s", decision.ID)
				}
			}
		}
	}
}
