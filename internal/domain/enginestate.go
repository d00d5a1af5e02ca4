package domain

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"
)

// EngineState holds one engine's learned parameters. The engine owns the
// state logically but never writes it; all mutation flows through the
// knowledge store's compare-and-update, which is what advances Version.
type EngineState struct {
	EngineID    string             `json:"engine_id"`
	Version     uint64             `json:"version"`
	Weights     map[string]float64 `json:"weights"`
	LastUpdated time.Time          `json:"last_updated"`
}

// Weight returns the named weight, zero when the dimension is unset.
func (s EngineState) Weight(name string) float64 {
	return s.Weights[name]
}

// CloneWeights returns a mutable copy of the weight map.
func (s EngineState) CloneWeights() map[string]float64 {
	out := make(map[string]float64, len(s.Weights))
	for k, v := range s.Weights {
		out[k] = v
	}
	return out
}

// KnowledgeDelta is the incremental description of one EngineState change.
// WeightDiff holds new-minus-old per dimension, so applying a delta is a
// per-dimension add. Origin is the instance that produced the change; peers
// use it to skip their own deltas when gossiping. BaseChecksum fingerprints
// the weights the diff was computed against: a version number alone does not
// identify a state once clones have diverged, the checksum does.
type KnowledgeDelta struct {
	EngineID     string             `json:"engine_id"`
	FromVersion  uint64             `json:"from_version"`
	ToVersion    uint64             `json:"to_version"`
	WeightDiff   map[string]float64 `json:"weight_diff"`
	BaseChecksum string             `json:"base_checksum"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Origin       string             `json:"origin"`
}

// WeightsChecksum fingerprints a weight map independent of key order.
func WeightsChecksum(weights map[string]float64) string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%.12g;", k, weights[k])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// SequencedDelta is a delta as stored in the append-only change log,
// tagged with its local log sequence number.
type SequencedDelta struct {
	Seq   uint64         `json:"seq"`
	Delta KnowledgeDelta `json:"delta"`
}
