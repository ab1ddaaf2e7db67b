// Package config holds the tunables for the weave sync engine: chunk size
// bounds, timer frequencies, disk-pool limits and peer-sampling knobs. The
// struct-of-tunables plus Default*Config() constructor follows the same
// shape as the teacher's DownloaderConfig / SchedulerConfig.
package config

import "time"

// MaxChunkBytes bounds a single chunk's body, per spec.
const MaxChunkBytes = 262144

// MaxSharedSyncedIntervalsCount bounds how many intervals of the sync
// record are shared with peers and kept before compaction is triggered.
const MaxSharedSyncedIntervalsCount = 10000

// ExtraIntervalsBeforeCompaction is the slack allowed above
// MaxSharedSyncedIntervalsCount before compact_intervals is cast.
const ExtraIntervalsBeforeCompaction = 100

// TrackConfirmations bounds how many recent blocks are kept in block_index.
const TrackConfirmations = 50

// Engine holds every tunable named in spec.md sections 4-6.
type Engine struct {
	// MaxChunkBytes bounds a stored chunk body.
	MaxChunkBytes int

	// MaxSharedSyncedIntervalsCount bounds the sync record shared with peers.
	MaxSharedSyncedIntervalsCount int
	// ExtraIntervalsBeforeCompaction is the slack before compaction triggers.
	ExtraIntervalsBeforeCompaction int

	// DiskSpaceCheckFrequency is how often the disk-space timer fires.
	DiskSpaceCheckFrequency time.Duration
	// DiskDataBufferSize is the free-space floor below which sync stops and
	// writes are refused unless explicitly opted in.
	DiskDataBufferSize uint64

	// DiskPoolScanFrequency is the idle tick period of the disk-pool processor.
	DiskPoolScanFrequency time.Duration
	// RemoveExpiredDataRootsFrequency is how often expired disk-pool roots
	// are swept.
	RemoveExpiredDataRootsFrequency time.Duration
	// DiskPoolDataRootExpiration is how long a pending root may sit unconfirmed.
	DiskPoolDataRootExpiration time.Duration

	// MaxDiskPoolBufferMB is the global disk-pool staging cap.
	MaxDiskPoolBufferMB uint64
	// MaxDiskPoolDataRootBufferMB is the per-root staging cap.
	MaxDiskPoolDataRootBufferMB uint64

	// PeerSyncRecordsFrequency is how often peer sync records are refreshed.
	PeerSyncRecordsFrequency time.Duration
	// ConsultPeerRecordsCount bounds how many peer records are sampled per round.
	ConsultPeerRecordsCount int
	// PickPeersOutOfRandomN bounds the candidate pool peers are sampled from.
	PickPeersOutOfRandomN int

	// TrackConfirmations bounds the retained block_index length.
	TrackConfirmations int

	// MigrationRetryDelay is the backoff after a failed migration step.
	MigrationRetryDelay time.Duration

	// MaxServedTxDataSize bounds a get_tx_data response.
	MaxServedTxDataSize uint64
}

// DefaultEngine returns production defaults for every tunable.
func DefaultEngine() *Engine {
	return &Engine{
		MaxChunkBytes:                   MaxChunkBytes,
		MaxSharedSyncedIntervalsCount:   MaxSharedSyncedIntervalsCount,
		ExtraIntervalsBeforeCompaction:  ExtraIntervalsBeforeCompaction,
		DiskSpaceCheckFrequency:         10 * time.Second,
		DiskDataBufferSize:              1 << 30, // 1 GiB
		DiskPoolScanFrequency:           100 * time.Millisecond,
		RemoveExpiredDataRootsFrequency: 10 * time.Second,
		DiskPoolDataRootExpiration:      2 * time.Hour,
		MaxDiskPoolBufferMB:             2000,
		MaxDiskPoolDataRootBufferMB:     500,
		PeerSyncRecordsFrequency:        2 * time.Minute,
		ConsultPeerRecordsCount:         5,
		PickPeersOutOfRandomN:           50,
		TrackConfirmations:              TrackConfirmations,
		MigrationRetryDelay:             30 * time.Second,
		MaxServedTxDataSize:             1 << 32,
	}
}
