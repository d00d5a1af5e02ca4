package hive

import (
	"context"
	"sort"
	"time"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/knowledge"
	"github.com/albertklubabot-sketch/gie20/internal/metrics"
	"github.com/albertklubabot-sketch/gie20/pkg/persistence"
	"github.com/albertklubabot-sketch/gie20/pkg/sigchan"
)

// Syncer pulls knowledge deltas from every peer on a fixed interval and
// folds them into the local store. Sync is strictly best effort: an
// unreachable peer degrades sharing, never decision making.
type Syncer struct {
	store    *knowledge.Store
	peers    []*Client
	interval time.Duration
	horizon  uint64
	persist  persistence.Service

	cursors map[string]uint64
	// buffered holds out-of-order deltas per engine until the gap fills.
	buffered map[string][]domain.KnowledgeDelta
	// kick requests an extra round before the next tick, emitted when a
	// buffered delta suggests the missing run is already available.
	kick *sigchan.Chan
}

func NewSyncer(store *knowledge.Store, peers []*Client, interval time.Duration, horizon uint64, persist persistence.Service) *Syncer {
	return &Syncer{
		store:    store,
		peers:    peers,
		interval: interval,
		horizon:  horizon,
		persist:  persist,
		cursors:  make(map[string]uint64),
		buffered: make(map[string][]domain.KnowledgeDelta),
		kick:     sigchan.New(1),
	}
}

// Run blocks until ctx is canceled, syncing every interval. Cursors are
// restored at start and snapshotted after every round, so a restarted clone
// resumes where it left off instead of replaying peers from scratch.
func (s *Syncer) Run(ctx context.Context) error {
	s.loadCursors()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.saveCursors()
			return ctx.Err()
		case <-ticker.C:
			s.SyncOnce(ctx)
			s.saveCursors()
		case <-s.kick.C():
			s.SyncOnce(ctx)
			s.saveCursors()
		}
	}
}

// SyncOnce runs one pull round against every peer.
func (s *Syncer) SyncOnce(ctx context.Context) {
	for _, peer := range s.peers {
		metrics.SyncRuns.Add(1)
		if err := s.syncPeer(ctx, peer); err != nil {
			metrics.SyncErrors.Add(1)
			log.WithError(err).Warnf("sync with %s failed, continuing without it", peer.Peer())
		}
	}
}

func (s *Syncer) syncPeer(ctx context.Context, peer *Client) error {
	resp, err := peer.FetchDeltas(ctx, s.cursors[peer.Peer()])
	if err != nil {
		return err
	}

	for _, sd := range resp.Deltas {
		if err := s.ingest(ctx, peer, sd.Delta); err != nil {
			return err
		}
		// Cursor advances past everything we have seen, including
		// duplicates and drops; only transport errors stop the scan.
		s.cursors[peer.Peer()] = sd.Seq
	}

	// Heads catch divergence the delta stream alone cannot: clones that
	// advanced to the same version with different histories produce no
	// applicable delta for each other, yet their checksums disagree.
	for engineID, head := range resp.Heads {
		local, err := s.store.Get(engineID)
		if err != nil {
			return err
		}
		if local.Version > head.Version {
			// We are ahead; the peer reconciles when it pulls from us.
			continue
		}
		if domain.WeightsChecksum(local.Weights) != head.Checksum {
			if err := s.mergeFromPeer(ctx, peer, engineID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ingest folds one remote delta into the local store following the
// reconciliation rules: skip own echoes and duplicates, apply in-order
// deltas whose base checksum matches, merge full states on divergence, and
// buffer bounded runs of out-of-order deltas.
func (s *Syncer) ingest(ctx context.Context, peer *Client, d domain.KnowledgeDelta) error {
	if d.Origin == s.store.Origin() {
		return nil
	}

	local, err := s.store.Get(d.EngineID)
	if err != nil {
		return err
	}

	switch {
	case d.ToVersion <= local.Version:
		// Already incorporated, possibly via another peer.
		return nil

	case d.FromVersion == local.Version:
		if domain.WeightsChecksum(local.Weights) != d.BaseChecksum {
			// Same version number, different history: the clones
			// diverged while partitioned. Reconcile on full state.
			return s.mergeFromPeer(ctx, peer, d.EngineID)
		}
		if _, err := s.store.ApplyRemoteDelta(d); err != nil {
			return err
		}
		metrics.DeltasApplied.Add(1)
		return s.drain(d.EngineID)

	case d.FromVersion > local.Version:
		if d.FromVersion-local.Version > s.horizon {
			// Too far ahead to ever bridge with buffered deltas; the
			// missing run has likely been compacted away on the peer.
			metrics.DeltasStale.Add(1)
			log.Warnf("delta for engine %s from v%d is beyond horizon (local v%d), reconciling on state",
				d.EngineID, d.FromVersion, local.Version)
			return s.mergeFromPeer(ctx, peer, d.EngineID)
		}
		s.buffer(d)
		return nil

	default:
		// FromVersion < local.Version < ToVersion: the delta spans our
		// head, which single-step deltas never do. Treat as divergence.
		return s.mergeFromPeer(ctx, peer, d.EngineID)
	}
}

func (s *Syncer) buffer(d domain.KnowledgeDelta) {
	buf := append(s.buffered[d.EngineID], d)
	sort.Slice(buf, func(i, j int) bool { return buf[i].FromVersion < buf[j].FromVersion })
	if uint64(len(buf)) > s.horizon {
		dropped := buf[len(buf)-1]
		buf = buf[:len(buf)-1]
		metrics.DeltasStale.Add(1)
		log.Warnf("dropping buffered delta engine=%s v%d->v%d, buffer at horizon",
			dropped.EngineID, dropped.FromVersion, dropped.ToVersion)
	}
	s.buffered[d.EngineID] = buf
	metrics.DeltasBuffered.Add(1)
	s.kick.Emit()
}

// drain replays buffered deltas that have become applicable after an apply
// or merge moved the local head.
func (s *Syncer) drain(engineID string) error {
	buf := s.buffered[engineID]
	for len(buf) > 0 {
		local, err := s.store.Get(engineID)
		if err != nil {
			return err
		}

		progressed := false
		remaining := buf[:0]
		for _, d := range buf {
			switch {
			case d.ToVersion <= local.Version:
				// Superseded while buffered.
			case d.FromVersion == local.Version &&
				domain.WeightsChecksum(local.Weights) == d.BaseChecksum:
				if _, err := s.store.ApplyRemoteDelta(d); err != nil {
					return err
				}
				metrics.DeltasApplied.Add(1)
				progressed = true
			default:
				remaining = append(remaining, d)
			}
		}
		buf = remaining
		if !progressed {
			break
		}
	}
	s.buffered[engineID] = buf
	return nil
}

// mergeFromPeer reconciles a divergent engine on the peer's full state.
func (s *Syncer) mergeFromPeer(ctx context.Context, peer *Client, engineID string) error {
	remote, err := peer.FetchState(ctx, engineID)
	if err != nil {
		return err
	}
	local, err := s.store.Get(engineID)
	if err != nil {
		return err
	}
	if domain.WeightsChecksum(local.Weights) == domain.WeightsChecksum(remote.Weights) {
		// Same weights under different version numbers is not a conflict
		// worth a merge commit.
		return nil
	}
	if _, err := s.store.MergeState(remote); err != nil {
		return err
	}
	metrics.DeltasMerged.Add(1)
	// Buffered deltas were built against pre-merge history; drop them and
	// let the next round resync cleanly.
	delete(s.buffered, engineID)
	return nil
}

type cursorSnapshot struct {
	Cursors map[string]uint64 `json:"cursors"`
}

func (s *Syncer) loadCursors() {
	if s.persist == nil {
		return
	}
	var snap cursorSnapshot
	store := s.persist.NewStore("sync", s.store.Origin(), "cursors")
	if err := store.Load(&snap); err != nil {
		if err != persistence.ErrNotExists {
			log.WithError(err).Warn("sync cursors not restored")
		}
		return
	}
	if snap.Cursors != nil {
		s.cursors = snap.Cursors
	}
}

func (s *Syncer) saveCursors() {
	if s.persist == nil {
		return
	}
	store := s.persist.NewStore("sync", s.store.Origin(), "cursors")
	if err := store.Save(cursorSnapshot{Cursors: s.cursors}); err != nil {
		log.WithError(err).Warn("sync cursor snapshot failed")
	}
}
