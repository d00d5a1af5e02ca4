package decisionlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "decisions.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleDecision(id string) domain.Decision {
	return domain.Decision{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Signal: domain.SignalVector{
			Readings:  []domain.Reading{{Name: "noise", Value: 0.2}},
			Timestamp: time.Now().UTC(),
		},
		Selected: domain.Proposal{EngineID: "aggressive", Action: domain.ActionBuy, Confidence: 0.8},
		Proposals: []domain.Proposal{
			{EngineID: "aggressive", Action: domain.ActionBuy, Confidence: 0.8},
			{EngineID: "cautious", Action: domain.ActionHold, Confidence: 0.4},
		},
		Status: domain.StatusPendingOutcome,
	}
}

func TestInsertAndGet_RoundTrip(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	want := sampleDecision("d1")
	if err := l.Insert(ctx, want); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	got, err := l.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for a stored decision")
	}
	if got.ID != want.ID || got.Status != domain.StatusPendingOutcome {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Selected.EngineID != "aggressive" || got.Selected.Action != domain.ActionBuy {
		t.Fatalf("selected proposal lost: %+v", got.Selected)
	}
	if len(got.Proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(got.Proposals))
	}
	if v, ok := got.Signal.Get("noise"); !ok || v != 0.2 {
		t.Fatalf("signal vector lost: %+v", got.Signal)
	}
}

func TestGet_UnknownIsNil(t *testing.T) {
	l := openTestLog(t)

	got, err := l.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown id, got %+v", got)
	}
}

func TestClaimResolved_FirstClaimWins(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	if err := l.Insert(ctx, sampleDecision("d1")); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	now := time.Now().UTC()
	ok, err := l.ClaimResolved(ctx, "d1", decimal.NewFromFloat(1.5), now)
	if err != nil {
		t.Fatalf("ClaimResolved() error: %v", err)
	}
	if !ok {
		t.Fatal("first claim must succeed")
	}

	ok, err = l.ClaimResolved(ctx, "d1", decimal.NewFromFloat(-9), now)
	if err != nil {
		t.Fatalf("second ClaimResolved() error: %v", err)
	}
	if ok {
		t.Fatal("second claim must lose")
	}

	got, err := l.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != domain.StatusResolved {
		t.Fatalf("status = %s, want resolved", got.Status)
	}
}

func TestClaimResolved_UnknownDecision(t *testing.T) {
	l := openTestLog(t)

	ok, err := l.ClaimResolved(context.Background(), "missing", decimal.Zero, time.Now())
	if err != nil {
		t.Fatalf("ClaimResolved() error: %v", err)
	}
	if ok {
		t.Fatal("claiming an unknown decision must not succeed")
	}
}

func TestRecentAndCounts(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		d := sampleDecision(id)
		if err := l.Insert(ctx, d); err != nil {
			t.Fatalf("Insert(%s) error: %v", id, err)
		}
	}
	if _, err := l.ClaimResolved(ctx, "d2", decimal.NewFromInt(1), time.Now().UTC()); err != nil {
		t.Fatalf("ClaimResolved() error: %v", err)
	}

	pending, resolved, err := l.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error: %v", err)
	}
	if pending != 2 || resolved != 1 {
		t.Fatalf("counts = %d pending / %d resolved", pending, resolved)
	}

	recent, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent decisions, got %d", len(recent))
	}
}

func TestEngineStats_AggregatesResolvedRewards(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for i, id := range []string{"d1", "d2"} {
		d := sampleDecision(id)
		if err := l.Insert(ctx, d); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
		reward := decimal.NewFromInt(int64(i + 1)) // 1 then 2
		if _, err := l.ClaimResolved(ctx, id, reward, time.Now().UTC()); err != nil {
			t.Fatalf("ClaimResolved() error: %v", err)
		}
	}

	stats, err := l.EngineStats(ctx)
	if err != nil {
		t.Fatalf("EngineStats() error: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected stats for one engine, got %d", len(stats))
	}
	s := stats[0]
	if s.EngineID != "aggressive" || s.Selected != 2 || s.Resolved != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.AvgReward < 1.49 || s.AvgReward > 1.51 {
		t.Fatalf("avg reward = %v, want 1.5", s.AvgReward)
	}
}
