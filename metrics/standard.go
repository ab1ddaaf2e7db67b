package metrics

// Pre-defined metrics for the weave sync engine. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Weave / chunk store metrics ----

	// WeaveSize tracks the current weave size in bytes.
	WeaveSize = DefaultRegistry.Gauge("weave.size_bytes")
	// ChunksStored counts chunks successfully written to chunks_index.
	ChunksStored = DefaultRegistry.Counter("weave.chunks_stored")
	// ChunkStoreRejected counts store-chunk attempts rejected (blacklisted
	// offset, already present, etc).
	ChunkStoreRejected = DefaultRegistry.Counter("weave.chunks_rejected")
	// SyncRecordBytes tracks sum(sync_record) in bytes.
	SyncRecordBytes = DefaultRegistry.Gauge("weave.sync_record_bytes")
	// SyncRecordIntervals tracks count(sync_record).
	SyncRecordIntervals = DefaultRegistry.Gauge("weave.sync_record_intervals")
	// CompactedBytes tracks compacted_size.
	CompactedBytes = DefaultRegistry.Gauge("weave.compacted_bytes")
	// ReorgsHandled counts reorg rollbacks processed by join/add_tip_block.
	ReorgsHandled = DefaultRegistry.Counter("weave.reorgs")

	// ---- Disk pool metrics ----

	// DiskPoolBytes tracks disk_pool_size in bytes.
	DiskPoolBytes = DefaultRegistry.Gauge("diskpool.bytes")
	// DiskPoolRootsExpired counts disk-pool roots dropped by expiry.
	DiskPoolRootsExpired = DefaultRegistry.Counter("diskpool.roots_expired")
	// DiskPoolRootsPromoted counts disk-pool roots promoted into the main
	// indices after confirmation.
	DiskPoolRootsPromoted = DefaultRegistry.Counter("diskpool.roots_promoted")
	// DiskPoolRootsSeen counts add_data_root_to_disk_pool calls.
	DiskPoolRootsSeen = DefaultRegistry.Counter("diskpool.roots_seen")

	// ---- Sync scheduler metrics ----

	// PeersConnected tracks the current number of peers with a fresh sync
	// record sample.
	PeersConnected = DefaultRegistry.Gauge("sync.peers")
	// ChunksFetched counts chunks successfully fetched from peers.
	ChunksFetched = DefaultRegistry.Counter("sync.chunks_fetched")
	// FetchErrors counts failed peer chunk fetches.
	FetchErrors = DefaultRegistry.Counter("sync.fetch_errors")
	// FetchLatency records peer fetch latency in milliseconds.
	FetchLatency = DefaultRegistry.Histogram("sync.fetch_latency_ms")
	// MissingChunkScans counts missing-chunk cursor advances.
	MissingChunkScans = DefaultRegistry.Counter("sync.missing_chunk_scans")

	// ---- Blacklist / migration metrics ----

	// TxDataRemovals counts request_tx_data_removal completions.
	TxDataRemovals = DefaultRegistry.Counter("blacklist.tx_removals")
	// MigrationStepsDone counts store_data_in_v2_index steps completed.
	MigrationStepsDone = DefaultRegistry.Counter("migration.steps_done")
	// MigrationErrors counts migration step failures (retried on a timer).
	MigrationErrors = DefaultRegistry.Counter("migration.errors")
)
