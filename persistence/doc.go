// Package persistence provides durable storage for run snapshots and agent
// artifacts. The kernel checkpoints a run's full bookkeeping at every status
// transition so a restarted process can enumerate and recover interrupted
// runs.
//
// Two families of stores are provided:
//
//   - RunStore: the authoritative snapshot store. MemoryRunStore backs tests
//     and single-process deployments; RedisRunStore is the production store,
//     keeping an index set of active runs and expiring terminal snapshots.
//   - ArchiveStore: a relational cold store for terminal runs, queryable by
//     workflow for offline inspection after the hot snapshot expires.
//
// RetryStore decorates any RunStore with exponential backoff on retryable
// storage errors, so transient outages do not immediately fail a run.
package persistence
