package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/types"
)

// RunStore persists run snapshots. Implementations must treat SaveRun as a
// full overwrite of the snapshot keyed by run id.
type RunStore interface {
	// SaveRun checkpoints the snapshot. Terminal snapshots may be given a
	// bounded lifetime by the implementation.
	SaveRun(ctx context.Context, snap *types.RunSnapshot) error

	// LoadRun returns the snapshot for the run id, or an ErrRunNotFound
	// coded error when no snapshot exists.
	LoadRun(ctx context.Context, runID string) (*types.RunSnapshot, error)

	// ActiveRuns lists the ids of runs whose last checkpoint was
	// non-terminal. Used by crash recovery.
	ActiveRuns(ctx context.Context) ([]string, error)
}

// ArtifactStore persists agent output payloads referenced from the
// invocation log, keeping the snapshots themselves small.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, runID, artifactID string, payload []byte) error
	LoadArtifact(ctx context.Context, runID, artifactID string) ([]byte, error)
}

// notFound builds the coded error every RunStore returns for missing runs.
func notFound(runID string) error {
	return types.NewError(types.ErrRunNotFound, fmt.Sprintf("run %s not found", runID))
}

// =============================================================================
// In-Memory Store
// =============================================================================

// MemoryRunStore is a process-local RunStore and ArtifactStore used by tests
// and single-node deployments without Redis.
type MemoryRunStore struct {
	mu        sync.RWMutex
	runs      map[string]types.RunSnapshot
	artifacts map[string][]byte
}

// NewMemoryRunStore creates an empty in-memory store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:      make(map[string]types.RunSnapshot),
		artifacts: make(map[string][]byte),
	}
}

// SaveRun implements RunStore.
func (m *MemoryRunStore) SaveRun(_ context.Context, snap *types.RunSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[snap.RunID] = *snap
	return nil
}

// LoadRun implements RunStore.
func (m *MemoryRunStore) LoadRun(_ context.Context, runID string) (*types.RunSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.runs[runID]
	if !ok {
		return nil, notFound(runID)
	}
	out := snap
	return &out, nil
}

// ActiveRuns implements RunStore.
func (m *MemoryRunStore) ActiveRuns(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, snap := range m.runs {
		if !snap.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveArtifact implements ArtifactStore.
func (m *MemoryRunStore) SaveArtifact(_ context.Context, runID, artifactID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.artifacts[runID+"/"+artifactID] = buf
	return nil
}

// LoadArtifact implements ArtifactStore.
func (m *MemoryRunStore) LoadArtifact(_ context.Context, runID, artifactID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.artifacts[runID+"/"+artifactID]
	if !ok {
		return nil, types.NewError(types.ErrStorage,
			fmt.Sprintf("artifact %s/%s not found", runID, artifactID))
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// =============================================================================
// Retrying Decorator
// =============================================================================

// RetryStore wraps a RunStore with exponential backoff on retryable errors.
// Non-retryable errors (not-found, validation) pass through immediately.
type RetryStore struct {
	inner    RunStore
	attempts int
	baseWait time.Duration
}

// NewRetryStore decorates inner. attempts < 1 defaults to 3 tries;
// baseWait <= 0 defaults to 100ms, doubling per attempt.
func NewRetryStore(inner RunStore, attempts int, baseWait time.Duration) *RetryStore {
	if attempts < 1 {
		attempts = 3
	}
	if baseWait <= 0 {
		baseWait = 100 * time.Millisecond
	}
	return &RetryStore{inner: inner, attempts: attempts, baseWait: baseWait}
}

func (r *RetryStore) retry(ctx context.Context, op func() error) error {
	var err error
	wait := r.baseWait
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
		if err = op(); err == nil {
			return nil
		}
		if !types.IsRetryable(err) {
			return err
		}
	}
	return err
}

// SaveRun implements RunStore.
func (r *RetryStore) SaveRun(ctx context.Context, snap *types.RunSnapshot) error {
	return r.retry(ctx, func() error { return r.inner.SaveRun(ctx, snap) })
}

// LoadRun implements RunStore.
func (r *RetryStore) LoadRun(ctx context.Context, runID string) (*types.RunSnapshot, error) {
	var snap *types.RunSnapshot
	err := r.retry(ctx, func() error {
		var e error
		snap, e = r.inner.LoadRun(ctx, runID)
		return e
	})
	return snap, err
}

// ActiveRuns implements RunStore.
func (r *RetryStore) ActiveRuns(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.retry(ctx, func() error {
		var e error
		ids, e = r.inner.ActiveRuns(ctx)
		return e
	})
	return ids, err
}
