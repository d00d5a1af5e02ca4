package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one raw market observation. The decision core never sees ticks;
// the sensor layer normalizes them into signal vectors.
type Tick struct {
	Time   time.Time       `json:"time"`
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Volume decimal.Decimal `json:"volume"`
}

// Mid returns the bid/ask midpoint.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Spread returns ask minus bid.
func (t Tick) Spread() decimal.Decimal {
	return t.Ask.Sub(t.Bid)
}

// Source delivers ticks until ctx is done. Implementations own their
// reconnect policy; a closed channel means the source stopped for good.
type Source interface {
	// Start begins producing ticks. Non-blocking.
	Start(ctx context.Context) error
	// Ticks is the stream of observations.
	Ticks() <-chan Tick
	// Stop tears the source down and closes the tick channel.
	Stop()
}
