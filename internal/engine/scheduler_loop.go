// Background sync scheduler loop (spec.md section 4.4): refreshes peer
// sync records, picks a random interval to hunt, fetches the chunk at the
// sampled byte, and casts the result back into the engine. The loop owns
// no engine state directly — it reads a snapshot via Call, does its I/O
// outside the mailbox, and casts the outcome back in, the same
// decide-outside/mutate-inside split the teacher uses for its downloader
// (internal/teachersync/downloader.go: fetch headers/bodies off the main
// loop, deliver results through a channel the sync loop select()s on).
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecolog/arweave/internal/intervals"
	"github.com/ecolog/arweave/internal/merkle"
	"github.com/ecolog/arweave/internal/peer"
	"github.com/ecolog/arweave/internal/scheduler"
	"github.com/ecolog/arweave/metrics"
)

func (e *Engine) schedulerLoop(ctx context.Context) {
	defer e.stopWg.Done()
	if e.peerClient == nil || e.peerPool == nil {
		return // no network wiring configured; engine serves reads/writes only
	}

	refreshT := time.NewTicker(e.cfg.PeerSyncRecordsFrequency)
	defer refreshT.Stop()
	huntT := time.NewTicker(50 * time.Millisecond)
	defer huntT.Stop()

	for {
		select {
		case <-refreshT.C:
			e.refreshPeerRecords(ctx)
		case <-huntT.C:
			e.huntOnce(ctx)
		case <-ctx.Done():
			return
		case <-e.done:
			return
		}
	}
}

// refreshPeerRecords samples PickPeersOutOfRandomN peers and fetches
// ConsultPeerRecordsCount of their sync records in parallel, then casts
// the results back into the engine.
func (e *Engine) refreshPeerRecords(ctx context.Context) {
	all := e.peerPool.Peers()
	if len(all) == 0 {
		return
	}
	sampleN := e.cfg.PickPeersOutOfRandomN
	if sampleN > len(all) {
		sampleN = len(all)
	}
	candidates := append([]peer.ID(nil), all...)
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	candidates = candidates[:sampleN]

	pickN := e.cfg.ConsultPeerRecordsCount
	if pickN > len(candidates) {
		pickN = len(candidates)
	}
	candidates = candidates[:pickN]

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	collected := make(map[peer.ID]*intervals.Set, len(candidates))
	g, gctx := errgroup.WithContext(fetchCtx)
	for _, p := range candidates {
		p := p
		g.Go(func() error {
			rec, err := e.peerClient.GetSyncRecord(gctx, p)
			if err != nil {
				metrics.FetchErrors.Inc()
				return nil // one peer's failure must not cancel the others
			}
			mu.Lock()
			collected[p] = rec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	_ = e.cast(func(eng *Engine) {
		for id, rec := range collected {
			eng.peerRecords[id] = rec
		}
		metrics.PeersConnected.Set(int64(len(eng.peerRecords)))
	})
}

// huntOnce performs a single sync_random_interval + fetch cycle.
func (e *Engine) huntOnce(ctx context.Context) {
	pick, ok := e.snapshotPick()
	if !ok {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	chunk, err := e.peerClient.GetChunk(fetchCtx, pick.Peer, pick.Byte)
	if err != nil {
		metrics.FetchErrors.Inc()
		_ = e.cast(func(eng *Engine) { eng.excludedPeers[pick.Peer] = true })
		return
	}

	if !scheduler.IsAttractive(len(chunk.Bytes), len(chunk.DataPath)) {
		_ = e.cast(func(eng *Engine) { eng.excludedPeers[pick.Peer] = true })
		return
	}

	proof := merkle.Proof{
		Chunk:      chunk.Bytes,
		DataPath:   chunk.DataPath,
		TxPath:     chunk.TxPath,
		DataRoot:   chunk.DataRoot,
		TxRoot:     chunk.TxRoot,
		TxSize:     chunk.TxSize,
		BlockSize:  chunk.BlockSize,
		OffsetInTx: chunk.OffsetInTx,
		OffsetInBk: chunk.OffsetInBk,
	}
	_ = e.cast(func(eng *Engine) {
		if err := eng.doAddChunk(StoreChunkRequest{Proof: proof, AbsEndOffset: chunk.AbsEndOffset}); err != nil {
			eng.logger.Warn("fetched chunk rejected", "peer", pick.Peer, "error", err)
			return
		}
		metrics.ChunksFetched.Inc()
	})
}

// snapshotPick reads a consistent snapshot of engine state and runs the
// pure scheduler decision function outside the mailbox.
func (e *Engine) snapshotPick() (scheduler.RandomIntervalPick, bool) {
	type snap struct {
		syncRecord  *intervals.Set
		weaveSize   uint64
		peerRecords map[peer.ID]*intervals.Set
		excluded    map[peer.ID]bool
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := call(ctx, e, func(eng *Engine) (snap, error) {
		peerRecords := make(map[peer.ID]*intervals.Set, len(eng.peerRecords))
		for id, set := range eng.peerRecords {
			peerRecords[id] = set.Clone()
		}
		excluded := make(map[peer.ID]bool, len(eng.excludedPeers))
		for id, v := range eng.excludedPeers {
			excluded[id] = v
		}
		return snap{syncRecord: eng.syncRecord.Clone(), weaveSize: eng.weaveSize, peerRecords: peerRecords, excluded: excluded}, nil
	})
	if err != nil {
		return scheduler.RandomIntervalPick{}, false
	}

	return scheduler.PickRandomInterval(e.rng, scheduler.Config{
		MaxSharedSyncedIntervalsCount: e.cfg.MaxSharedSyncedIntervalsCount,
		MaxChunkBytes:                 e.cfg.MaxChunkBytes,
	}, s.syncRecord, s.weaveSize, s.peerRecords, s.excluded)
}
