package knowledge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
)

func openTestStore(t *testing.T, origin string) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), origin)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGet_UnknownEngineIsZeroState(t *testing.T) {
	s := openTestStore(t, "clone-a")

	state, err := s.Get("aggressive")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if state.Version != 0 {
		t.Fatalf("expected version 0, got %d", state.Version)
	}
	if len(state.Weights) != 0 {
		t.Fatalf("expected empty weights, got %v", state.Weights)
	}
}

func TestCompareAndUpdate_VersionChain(t *testing.T) {
	s := openTestStore(t, "clone-a")

	next, err := s.CompareAndUpdate("aggressive", 0, map[string]float64{"buy": 0.5})
	if err != nil {
		t.Fatalf("CompareAndUpdate() error: %v", err)
	}
	if next.Version != 1 {
		t.Fatalf("expected version 1, got %d", next.Version)
	}

	next, err = s.CompareAndUpdate("aggressive", 1, map[string]float64{"buy": 0.6})
	if err != nil {
		t.Fatalf("CompareAndUpdate() error: %v", err)
	}
	if next.Version != 2 {
		t.Fatalf("expected version 2, got %d", next.Version)
	}

	// Stale expected version must fail without changing anything.
	if _, err := s.CompareAndUpdate("aggressive", 1, map[string]float64{"buy": 0.9}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	cur, err := s.Get("aggressive")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if cur.Version != 2 || cur.Weights["buy"] != 0.6 {
		t.Fatalf("conflicting write leaked: %+v", cur)
	}
}

func TestCompareAndUpdate_ConcurrentWritersKeepVersionsMonotonic(t *testing.T) {
	s := openTestStore(t, "clone-a")

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				state, err := s.Get("cautious")
				if err != nil {
					t.Errorf("Get() error: %v", err)
					return
				}
				w := state.CloneWeights()
				w["hold"] += 1
				if _, err := s.CompareAndUpdate("cautious", state.Version, w); err != nil {
					if errors.Is(err, ErrVersionConflict) {
						continue
					}
					t.Errorf("CompareAndUpdate() error: %v", err)
					return
				}
				mu.Lock()
				applied++
				mu.Unlock()
				return
			}
		}(i)
	}
	wg.Wait()

	state, err := s.Get("cautious")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if state.Version != writers {
		t.Fatalf("expected version %d after %d applied writes, got %d", writers, applied, state.Version)
	}
	if state.Weights["hold"] != float64(writers) {
		t.Fatalf("lost update: hold=%v", state.Weights["hold"])
	}
}

func TestDeltasAfter_RecordsEveryUpdateInOrder(t *testing.T) {
	s := openTestStore(t, "clone-a")

	weights := map[string]float64{"buy": 0}
	for i := 0; i < 3; i++ {
		weights["buy"] += 0.1
		if _, err := s.CompareAndUpdate("reflex", uint64(i), weights); err != nil {
			t.Fatalf("CompareAndUpdate() error: %v", err)
		}
	}

	deltas, err := s.DeltasAfter(0, 0)
	if err != nil {
		t.Fatalf("DeltasAfter() error: %v", err)
	}
	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(deltas))
	}
	for i, sd := range deltas {
		if sd.Seq != uint64(i+1) {
			t.Fatalf("delta %d has seq %d", i, sd.Seq)
		}
		if sd.Delta.FromVersion != uint64(i) || sd.Delta.ToVersion != uint64(i+1) {
			t.Fatalf("delta %d has versions %d->%d", i, sd.Delta.FromVersion, sd.Delta.ToVersion)
		}
		if sd.Delta.Origin != "clone-a" {
			t.Fatalf("delta %d has origin %q", i, sd.Delta.Origin)
		}
	}

	// Partial reads resume exactly where the cursor points.
	tail, err := s.DeltasAfter(2, 0)
	if err != nil {
		t.Fatalf("DeltasAfter() error: %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 3 {
		t.Fatalf("expected only seq 3, got %+v", tail)
	}
}

func TestDeltaLog_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "clone-a")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, err := s.CompareAndUpdate("aggressive", 0, map[string]float64{"buy": 1}); err != nil {
		t.Fatalf("CompareAndUpdate() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s, err = Open(dir, "clone-a")
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s.Close()

	if got := s.LastSeq(); got != 1 {
		t.Fatalf("expected recovered seq 1, got %d", got)
	}
	if _, err := s.CompareAndUpdate("aggressive", 1, map[string]float64{"buy": 2}); err != nil {
		t.Fatalf("CompareAndUpdate() after reopen error: %v", err)
	}
	if got := s.LastSeq(); got != 2 {
		t.Fatalf("expected seq 2 after reopen write, got %d", got)
	}
}

func TestApplyRemoteDelta_RequiresMatchingBase(t *testing.T) {
	s := openTestStore(t, "clone-a")

	if _, err := s.CompareAndUpdate("reflex", 0, map[string]float64{"hold": 0.5}); err != nil {
		t.Fatalf("CompareAndUpdate() error: %v", err)
	}

	d := domain.KnowledgeDelta{
		EngineID:    "reflex",
		FromVersion: 1,
		ToVersion:   2,
		WeightDiff:  map[string]float64{"hold": 0.25},
		UpdatedAt:   time.Now().UTC(),
		Origin:      "clone-b",
	}
	next, err := s.ApplyRemoteDelta(d)
	if err != nil {
		t.Fatalf("ApplyRemoteDelta() error: %v", err)
	}
	if next.Version != 2 || next.Weights["hold"] != 0.75 {
		t.Fatalf("unexpected state after remote apply: %+v", next)
	}

	// A delta whose base does not match the local head must be refused.
	stale := domain.KnowledgeDelta{EngineID: "reflex", FromVersion: 1, ToVersion: 2, WeightDiff: map[string]float64{"hold": 1}}
	if _, err := s.ApplyRemoteDelta(stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestMergeState_SymmetricOnBothClones(t *testing.T) {
	a := openTestStore(t, "clone-a")
	b := openTestStore(t, "clone-b")

	// Both clones advance to the same version with different histories,
	// the way a network partition leaves them.
	if err := seedState(a, "aggressive", 3, map[string]float64{"buy": 0.8, "sell": -0.2}); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if err := seedState(b, "aggressive", 3, map[string]float64{"buy": 0.2, "hold": 0.4}); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	// Each side merges the other's published state, as the sync protocol
	// does when it detects a base checksum mismatch.
	remoteForA, err := b.Get("aggressive")
	if err != nil {
		t.Fatalf("Get() on b: %v", err)
	}
	remoteForB, err := a.Get("aggressive")
	if err != nil {
		t.Fatalf("Get() on a: %v", err)
	}

	mergedOnA, err := a.MergeState(remoteForA)
	if err != nil {
		t.Fatalf("MergeState() on a: %v", err)
	}
	mergedOnB, err := b.MergeState(remoteForB)
	if err != nil {
		t.Fatalf("MergeState() on b: %v", err)
	}

	if mergedOnA.Version != 4 || mergedOnB.Version != 4 {
		t.Fatalf("expected merged version 4, got %d and %d", mergedOnA.Version, mergedOnB.Version)
	}
	if !mergedOnA.LastUpdated.Equal(mergedOnB.LastUpdated) {
		t.Fatalf("merged timestamps differ: %v vs %v", mergedOnA.LastUpdated, mergedOnB.LastUpdated)
	}
	csA := domain.WeightsChecksum(mergedOnA.Weights)
	csB := domain.WeightsChecksum(mergedOnB.Weights)
	if csA != csB {
		t.Fatalf("merge is not symmetric: %s vs %s\n%v\n%v", csA, csB, mergedOnA.Weights, mergedOnB.Weights)
	}
}

// seedState walks a store to the given version through the public CAS API,
// landing on the given weights.
func seedState(s *Store, engineID string, version uint64, weights map[string]float64) error {
	var v uint64
	for v+1 < version {
		if _, err := s.CompareAndUpdate(engineID, v, map[string]float64{"seed": float64(v)}); err != nil {
			return err
		}
		v++
	}
	_, err := s.CompareAndUpdate(engineID, v, weights)
	return err
}
