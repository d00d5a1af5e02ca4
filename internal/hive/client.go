package hive

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
)

// Client reads a peer clone over its hive HTTP surface.
type Client struct {
	peer string
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		peer: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(200 * time.Millisecond),
	}
}

// Peer returns the base URL this client talks to.
func (c *Client) Peer() string { return c.peer }

// FetchDeltas pulls the peer's change log entries after the given sequence.
func (c *Client) FetchDeltas(ctx context.Context, after uint64) (*DeltasResponse, error) {
	var out DeltasResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("after", fmt.Sprintf("%d", after)).
		SetResult(&out).
		Get("/api/knowledge/deltas")
	if err != nil {
		return nil, errors.Wrapf(err, "fetch deltas from %s", c.peer)
	}
	if resp.IsError() {
		return nil, errors.Errorf("fetch deltas from %s: status %d: %s", c.peer, resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// FetchState pulls the peer's full current state for one engine. Used when
// the delta stream alone cannot reconcile divergent histories.
func (c *Client) FetchState(ctx context.Context, engineID string) (domain.EngineState, error) {
	var out domain.EngineState
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/knowledge/state/" + engineID)
	if err != nil {
		return domain.EngineState{}, errors.Wrapf(err, "fetch state %s from %s", engineID, c.peer)
	}
	if resp.IsError() {
		return domain.EngineState{}, errors.Errorf("fetch state %s from %s: status %d", engineID, c.peer, resp.StatusCode())
	}
	return out, nil
}

// FetchStats reads the peer's aggregate stats. Used by the monitor TUI.
func (c *Client) FetchStats(ctx context.Context) (*StatsResponse, error) {
	var out StatsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/stats")
	if err != nil {
		return nil, errors.Wrapf(err, "fetch stats from %s", c.peer)
	}
	if resp.IsError() {
		return nil, errors.Errorf("fetch stats from %s: status %d", c.peer, resp.StatusCode())
	}
	return &out, nil
}

// ReportOutcome posts an outcome to a clone. Exposed for execution-side
// tooling; duplicates are accepted by the server.
func (c *Client) ReportOutcome(ctx context.Context, out domain.Outcome) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(out).
		Post("/api/outcomes")
	if err != nil {
		return errors.Wrapf(err, "report outcome to %s", c.peer)
	}
	if resp.IsError() {
		return errors.Errorf("report outcome to %s: status %d: %s", c.peer, resp.StatusCode(), resp.String())
	}
	return nil
}
