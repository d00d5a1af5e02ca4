package feed

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// SyntheticSource emits random-walk ticks on a fixed cadence. Used in dry
// run mode and in tests, where no external feed exists.
type SyntheticSource struct {
	symbol   string
	interval time.Duration

	ticks  chan Tick
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyntheticSource creates a synthetic feed for symbol at the given cadence.
func NewSyntheticSource(symbol string, interval time.Duration) *SyntheticSource {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &SyntheticSource{
		symbol:   symbol,
		interval: interval,
		ticks:    make(chan Tick, 16),
	}
}

func (s *SyntheticSource) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	return nil
}

func (s *SyntheticSource) Ticks() <-chan Tick { return s.ticks }

func (s *SyntheticSource) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *SyntheticSource) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ticks)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	mid := 100.0
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mid += rng.NormFloat64() * 0.05
			spread := 0.01 + rng.Float64()*0.02
			tick := Tick{
				Time:   now,
				Symbol: s.symbol,
				Bid:    decimal.NewFromFloat(mid - spread/2),
				Ask:    decimal.NewFromFloat(mid + spread/2),
				Volume: decimal.NewFromFloat(1 + rng.Float64()*4),
			}
			select {
			case s.ticks <- tick:
			default:
			}
		}
	}
}
