// Package translog implements a per-shard write-ahead transaction log.
//
// It is the durability backbone of a search/indexing engine: every accepted
// mutation (create, save, delete, or legacy delete-by-query) is encoded,
// appended to a generation file, and optionally fsynced before the caller's
// write is acknowledged. On restart, records are replayed from the log to
// bring the underlying segment store back to the last acknowledged state.
//
// The package is organized around the components named in the spec this
// engine implements:
//
//   - [Encode] / [Decode]: the record codec (framing, checksum, versioned
//     field layout).
//   - [ImmutableReader]: a read-only handle on a closed generation file.
//   - [Writer]: the buffered, appending handle on the current generation.
//   - [Manager]: the orchestrator — generations, recovery, append, snapshots,
//     views, two-phase commit, durability scheduling.
//   - [Snapshot] / [View]: point-in-time and long-lived read handles.
//
// Collaborators the engine does not implement — the segment store, shard
// configuration, a thread pool, logging sinks — are consumed through small
// interfaces ([Scheduler], [fs.FS]) rather than concrete dependencies.
package translog
