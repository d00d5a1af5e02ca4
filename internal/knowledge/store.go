package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
)

var log = logrus.WithField("component", "knowledge")

// ErrVersionConflict reports that CompareAndUpdate (or a remote delta apply)
// saw a version other than the one the caller read. Recoverable: re-read
// and retry.
var ErrVersionConflict = errors.New("knowledge: version conflict")

const (
	statePrefix = "state:"
	logPrefix   = "log:"
)

// Store is the versioned knowledge base: one EngineState record per engine
// plus an append-only change log of KnowledgeDelta entries. All mutation is
// optimistic-concurrency-controlled; the internal mutex only covers the
// brief read-compare-write, never engine computation.
type Store struct {
	db     *badger.DB
	origin string

	mu      sync.Mutex
	nextSeq uint64
}

// Open opens (or creates) the store at path. origin is this instance's ID,
// stamped on locally produced deltas so peers can recognize them.
func Open(path, origin string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	s := &Store{db: db, origin: origin}
	if err := s.recoverSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Origin returns the instance ID this store stamps on local deltas.
func (s *Store) Origin() string { return s.origin }

// recoverSeq finds the highest log sequence written before a restart.
func (s *Store) recoverSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// seek to the end of the log: prefix + 0xFF sorts after every seq key
		it.Seek(append([]byte(logPrefix), 0xFF))
		if it.ValidForPrefix([]byte(logPrefix)) {
			var seq uint64
			if _, err := fmt.Sscanf(string(it.Item().Key()), logPrefix+"%020d", &seq); err != nil {
				return fmt.Errorf("corrupt change log key %q: %w", it.Item().Key(), err)
			}
			s.nextSeq = seq + 1
		}
		return nil
	})
}

func stateKey(engineID string) []byte {
	return []byte(statePrefix + engineID)
}

func logKey(seq uint64) []byte {
	return []byte(fmt.Sprintf(logPrefix+"%020d", seq))
}

// Get returns the engine's current state. Unknown engines get a zero state
// at version 0 with empty weights; the first successful update moves it to
// version 1.
func (s *Store) Get(engineID string) (domain.EngineState, error) {
	state := domain.EngineState{EngineID: engineID, Weights: map[string]float64{}}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(engineID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil {
		return domain.EngineState{}, fmt.Errorf("get engine state %s: %w", engineID, err)
	}
	if state.Weights == nil {
		state.Weights = map[string]float64{}
	}
	return state, nil
}

// CompareAndUpdate replaces the engine's weights if and only if the stored
// version equals expectedVersion. On success the new state (version+1) is
// written together with a change-log delta in one transaction, so the log
// never misses a committed update. A mismatched version returns
// ErrVersionConflict and changes nothing.
func (s *Store) CompareAndUpdate(engineID string, expectedVersion uint64, newWeights map[string]float64) (domain.EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Get(engineID)
	if err != nil {
		return domain.EngineState{}, err
	}
	if cur.Version != expectedVersion {
		return domain.EngineState{}, fmt.Errorf("%w: engine=%s expected=%d actual=%d",
			ErrVersionConflict, engineID, expectedVersion, cur.Version)
	}

	next := domain.EngineState{
		EngineID:    engineID,
		Version:     cur.Version + 1,
		Weights:     copyWeights(newWeights),
		LastUpdated: time.Now().UTC(),
	}
	delta := domain.KnowledgeDelta{
		EngineID:     engineID,
		FromVersion:  cur.Version,
		ToVersion:    next.Version,
		WeightDiff:   diffWeights(cur.Weights, next.Weights),
		BaseChecksum: domain.WeightsChecksum(cur.Weights),
		UpdatedAt:    next.LastUpdated,
		Origin:       s.origin,
	}

	if err := s.commit(next, delta); err != nil {
		return domain.EngineState{}, err
	}
	log.Debugf("engine=%s v%d -> v%d", engineID, cur.Version, next.Version)
	return next, nil
}

// ApplyRemoteDelta applies a peer's delta on top of the matching local
// version, preserving the delta's versions, origin and timestamp so the
// change keeps propagating unchanged. The caller must have verified the
// base checksum; a version mismatch here still returns ErrVersionConflict.
func (s *Store) ApplyRemoteDelta(d domain.KnowledgeDelta) (domain.EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Get(d.EngineID)
	if err != nil {
		return domain.EngineState{}, err
	}
	if cur.Version != d.FromVersion {
		return domain.EngineState{}, fmt.Errorf("%w: engine=%s delta from=%d local=%d",
			ErrVersionConflict, d.EngineID, d.FromVersion, cur.Version)
	}

	weights := copyWeights(cur.Weights)
	for dim, diff := range d.WeightDiff {
		weights[dim] += diff
	}
	next := domain.EngineState{
		EngineID:    d.EngineID,
		Version:     d.ToVersion,
		Weights:     weights,
		LastUpdated: d.UpdatedAt,
	}
	if err := s.commit(next, d); err != nil {
		return domain.EngineState{}, err
	}
	return next, nil
}

// MergeState reconciles a divergent remote state with the local one by
// averaging each weight, weighted by update recency. The formula is
// symmetric, so two clones merging the same pair land on byte-identical
// states: version max(local,remote)+1, timestamp max of the two.
func (s *Store) MergeState(remote domain.EngineState) (domain.EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local, err := s.Get(remote.EngineID)
	if err != nil {
		return domain.EngineState{}, err
	}

	merged := mergeWeights(local, remote)
	delta := domain.KnowledgeDelta{
		EngineID:     remote.EngineID,
		FromVersion:  local.Version,
		ToVersion:    merged.Version,
		WeightDiff:   diffWeights(local.Weights, merged.Weights),
		BaseChecksum: domain.WeightsChecksum(local.Weights),
		UpdatedAt:    merged.LastUpdated,
		Origin:       s.origin,
	}
	if err := s.commit(merged, delta); err != nil {
		return domain.EngineState{}, err
	}
	log.Infof("merged divergent state engine=%s local=v%d remote=v%d -> v%d",
		remote.EngineID, local.Version, remote.Version, merged.Version)
	return merged, nil
}

// mergeWeights implements the documented conflict rule: recency-weighted
// numeric averaging, never last-writer-wins.
func mergeWeights(local, remote domain.EngineState) domain.EngineState {
	ref := local.LastUpdated
	if remote.LastUpdated.Before(ref) {
		ref = remote.LastUpdated
	}
	wl := 1 + local.LastUpdated.Sub(ref).Seconds()
	wr := 1 + remote.LastUpdated.Sub(ref).Seconds()

	dims := make(map[string]struct{}, len(local.Weights)+len(remote.Weights))
	for k := range local.Weights {
		dims[k] = struct{}{}
	}
	for k := range remote.Weights {
		dims[k] = struct{}{}
	}
	weights := make(map[string]float64, len(dims))
	for dim := range dims {
		weights[dim] = (local.Weights[dim]*wl + remote.Weights[dim]*wr) / (wl + wr)
	}

	version := local.Version
	if remote.Version > version {
		version = remote.Version
	}
	updated := local.LastUpdated
	if remote.LastUpdated.After(updated) {
		updated = remote.LastUpdated
	}
	return domain.EngineState{
		EngineID:    local.EngineID,
		Version:     version + 1,
		Weights:     weights,
		LastUpdated: updated,
	}
}

// commit writes state and delta atomically and advances the log sequence.
// Callers hold s.mu.
func (s *Store) commit(state domain.EngineState, delta domain.KnowledgeDelta) error {
	stateB, err := json.Marshal(state)
	if err != nil {
		return err
	}
	entry := domain.SequencedDelta{Seq: s.nextSeq, Delta: delta}
	deltaB, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(stateKey(state.EngineID), stateB); err != nil {
			return err
		}
		return txn.Set(logKey(entry.Seq), deltaB)
	})
	if err != nil {
		return fmt.Errorf("commit engine state %s: %w", state.EngineID, err)
	}
	s.nextSeq++
	return nil
}

// DeltasAfter returns up to limit change-log entries with Seq > after,
// in sequence order. This is what peers poll during synchronization.
func (s *Store) DeltasAfter(after uint64, limit int) ([]domain.SequencedDelta, error) {
	if limit <= 0 {
		limit = 256
	}
	var out []domain.SequencedDelta
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(logKey(after + 1)); it.ValidForPrefix([]byte(logPrefix)) && len(out) < limit; it.Next() {
			var entry domain.SequencedDelta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}
	return out, nil
}

// LastSeq returns the sequence of the newest change-log entry (0 when empty).
func (s *Store) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextSeq == 0 {
		return 0
	}
	return s.nextSeq - 1
}

// Versions lists the current version of every known engine.
func (s *Store) Versions() (map[string]uint64, error) {
	out := map[string]uint64{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(statePrefix)); it.ValidForPrefix([]byte(statePrefix)); it.Next() {
			var state domain.EngineState
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			})
			if err != nil {
				return err
			}
			out[state.EngineID] = state.Version
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func diffWeights(before, after map[string]float64) map[string]float64 {
	dims := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		dims[k] = struct{}{}
	}
	for k := range after {
		dims[k] = struct{}{}
	}
	diff := make(map[string]float64, len(dims))
	for dim := range dims {
		if d := after[dim] - before[dim]; d != 0 {
			diff[dim] = d
		}
	}
	return diff
}
