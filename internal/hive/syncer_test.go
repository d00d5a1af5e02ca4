package hive

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
)

func newTestSyncer(t *testing.T, local *testClone, peers ...*testClone) *Syncer {
	t.Helper()
	clients := make([]*Client, 0, len(peers))
	for _, p := range peers {
		clients = append(clients, p.client())
	}
	return NewSyncer(local.store, clients, time.Second, 8, nil)
}

func TestSync_ReplaysPeerDeltasInOrder(t *testing.T) {
	a := newTestClone(t, "clone-a")
	b := newTestClone(t, "clone-b")

	weights := map[string]float64{"buy": 0}
	for i := 0; i < 3; i++ {
		weights["buy"] += 0.25
		if _, err := a.store.CompareAndUpdate("aggressive", uint64(i), weights); err != nil {
			t.Fatalf("CompareAndUpdate() error: %v", err)
		}
	}

	syncer := newTestSyncer(t, b, a)
	syncer.SyncOnce(context.Background())

	stateA, _ := a.store.Get("aggressive")
	stateB, err := b.store.Get("aggressive")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stateB.Version != stateA.Version {
		t.Fatalf("versions differ after sync: %d vs %d", stateB.Version, stateA.Version)
	}
	if domain.WeightsChecksum(stateB.Weights) != domain.WeightsChecksum(stateA.Weights) {
		t.Fatalf("weights differ after sync:\n%v\n%v", stateB.Weights, stateA.Weights)
	}
	if !stateB.LastUpdated.Equal(stateA.LastUpdated) {
		t.Fatalf("timestamps differ after sync: %v vs %v", stateB.LastUpdated, stateA.LastUpdated)
	}
}

func TestSync_SecondRoundOnlyFetchesNewDeltas(t *testing.T) {
	a := newTestClone(t, "clone-a")
	b := newTestClone(t, "clone-b")

	if _, err := a.store.CompareAndUpdate("reflex", 0, map[string]float64{"hold": 1}); err != nil {
		t.Fatalf("CompareAndUpdate() error: %v", err)
	}

	syncer := newTestSyncer(t, b, a)
	syncer.SyncOnce(context.Background())
	if got := syncer.cursors[a.server.URL]; got != 1 {
		t.Fatalf("cursor = %d after first round, want 1", got)
	}

	if _, err := a.store.CompareAndUpdate("reflex", 1, map[string]float64{"hold": 2}); err != nil {
		t.Fatalf("CompareAndUpdate() error: %v", err)
	}
	syncer.SyncOnce(context.Background())
	if got := syncer.cursors[a.server.URL]; got != 2 {
		t.Fatalf("cursor = %d after second round, want 2", got)
	}

	stateB, _ := b.store.Get("reflex")
	if stateB.Version != 2 || stateB.Weights["hold"] != 2 {
		t.Fatalf("unexpected state on b: %+v", stateB)
	}
}

func TestIngest_SkipsOwnEchoes(t *testing.T) {
	a := newTestClone(t, "clone-a")
	b := newTestClone(t, "clone-b")
	syncer := newTestSyncer(t, b, a)

	echo := domain.KnowledgeDelta{
		EngineID:    "aggressive",
		FromVersion: 0,
		ToVersion:   1,
		WeightDiff:  map[string]float64{"buy": 1},
		Origin:      "clone-b",
	}
	if err := syncer.ingest(context.Background(), a.client(), echo); err != nil {
		t.Fatalf("ingest() error: %v", err)
	}
	state, _ := b.store.Get("aggressive")
	if state.Version != 0 {
		t.Fatal("own delta must not be applied")
	}
}

func TestIngest_BuffersOutOfOrderUntilGapFills(t *testing.T) {
	a := newTestClone(t, "clone-a")
	b := newTestClone(t, "clone-b")

	// Build a 5-step history on a and capture its real deltas.
	weights := map[string]float64{}
	for i := 0; i < 5; i++ {
		weights["buy"] = float64(i + 1)
		if _, err := a.store.CompareAndUpdate("aggressive", uint64(i), weights); err != nil {
			t.Fatalf("CompareAndUpdate() error: %v", err)
		}
	}
	deltas, err := a.store.DeltasAfter(0, 0)
	if err != nil {
		t.Fatalf("DeltasAfter() error: %v", err)
	}

	syncer := newTestSyncer(t, b, a)
	ctx := context.Background()
	peer := a.client()

	// Deliver the delta starting at version 3 first: it must wait.
	if err := syncer.ingest(ctx, peer, deltas[3].Delta); err != nil {
		t.Fatalf("ingest(v3) error: %v", err)
	}
	state, _ := b.store.Get("aggressive")
	if state.Version != 0 {
		t.Fatalf("out-of-order delta applied early, version %d", state.Version)
	}
	if len(syncer.buffered["aggressive"]) != 1 {
		t.Fatalf("expected 1 buffered delta, have %d", len(syncer.buffered["aggressive"]))
	}

	// Delivering the missing prefix releases the buffer.
	for _, i := range []int{0, 1, 2} {
		if err := syncer.ingest(ctx, peer, deltas[i].Delta); err != nil {
			t.Fatalf("ingest(%d) error: %v", i, err)
		}
	}
	state, _ = b.store.Get("aggressive")
	if state.Version != 4 {
		t.Fatalf("expected buffered delta drained to version 4, got %d", state.Version)
	}
	if len(syncer.buffered["aggressive"]) != 0 {
		t.Fatalf("buffer not drained: %d left", len(syncer.buffered["aggressive"]))
	}

	// The final delta applies directly now.
	if err := syncer.ingest(ctx, peer, deltas[4].Delta); err != nil {
		t.Fatalf("ingest(v4) error: %v", err)
	}
	state, _ = b.store.Get("aggressive")
	if state.Version != 5 || state.Weights["buy"] != 5 {
		t.Fatalf("unexpected final state: %+v", state)
	}
}

func TestIngest_FarAheadDeltaReconcilesOnFullState(t *testing.T) {
	a := newTestClone(t, "clone-a")
	b := newTestClone(t, "clone-b")

	weights := map[string]float64{}
	for i := 0; i < 12; i++ {
		weights["buy"] = float64(i + 1)
		if _, err := a.store.CompareAndUpdate("aggressive", uint64(i), weights); err != nil {
			t.Fatalf("CompareAndUpdate() error: %v", err)
		}
	}
	deltas, err := a.store.DeltasAfter(0, 0)
	if err != nil {
		t.Fatalf("DeltasAfter() error: %v", err)
	}

	// Horizon is 8; a delta starting at version 11 against a local version 0
	// can never be bridged by buffering.
	syncer := newTestSyncer(t, b, a)
	if err := syncer.ingest(context.Background(), a.client(), deltas[11].Delta); err != nil {
		t.Fatalf("ingest() error: %v", err)
	}

	state, _ := b.store.Get("aggressive")
	if state.Version == 0 {
		t.Fatal("expected a full-state reconcile, nothing happened")
	}
	// Merge semantics: version moves past the remote head.
	if state.Version != 13 {
		t.Fatalf("expected merged version 13, got %d", state.Version)
	}
}

func TestSync_DivergedClonesConverge(t *testing.T) {
	a := newTestClone(t, "clone-a")
	b := newTestClone(t, "clone-b")

	// Shared prefix.
	if _, err := a.store.CompareAndUpdate("aggressive", 0, map[string]float64{"buy": 0.5}); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	syncerA := newTestSyncer(t, a, b)
	syncerB := newTestSyncer(t, b, a)
	syncerB.SyncOnce(context.Background())

	// Partition: both clones learn independently at the same version.
	if _, err := a.store.CompareAndUpdate("aggressive", 1, map[string]float64{"buy": 0.9}); err != nil {
		t.Fatalf("diverge a: %v", err)
	}
	if _, err := b.store.CompareAndUpdate("aggressive", 1, map[string]float64{"buy": 0.1}); err != nil {
		t.Fatalf("diverge b: %v", err)
	}

	// Partition heals; keep gossiping until the weights agree.
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		syncerA.SyncOnce(ctx)
		syncerB.SyncOnce(ctx)
	}

	stateA, _ := a.store.Get("aggressive")
	stateB, _ := b.store.Get("aggressive")
	diff := math.Abs(stateA.Weights["buy"] - stateB.Weights["buy"])
	if diff > 1e-6 {
		t.Fatalf("clones did not converge: %v vs %v", stateA.Weights["buy"], stateB.Weights["buy"])
	}
	// Both must sit strictly between the divergent values: averaged, not
	// last-writer-wins.
	if stateA.Weights["buy"] <= 0.1 || stateA.Weights["buy"] >= 0.9 {
		t.Fatalf("merge was not an average: %v", stateA.Weights["buy"])
	}
}
