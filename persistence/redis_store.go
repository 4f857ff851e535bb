package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

const (
	defaultKeyPrefix   = "agentgraph"
	defaultTerminalTTL = 24 * time.Hour
	defaultArtifactTTL = 7 * 24 * time.Hour
)

// RedisRunStore persists snapshots and artifacts in Redis. Non-terminal
// snapshots live without expiry and are indexed in an active-runs set;
// terminal snapshots drop out of the index and expire after a bounded TTL.
type RedisRunStore struct {
	client      redis.UniversalClient
	prefix      string
	terminalTTL time.Duration
	artifactTTL time.Duration
	logger      *zap.Logger
}

// RedisOption configures a RedisRunStore.
type RedisOption func(*RedisRunStore)

// WithKeyPrefix overrides the default "agentgraph" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisRunStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTerminalTTL overrides how long terminal snapshots are kept.
func WithTerminalTTL(ttl time.Duration) RedisOption {
	return func(s *RedisRunStore) {
		if ttl > 0 {
			s.terminalTTL = ttl
		}
	}
}

// WithArtifactTTL overrides how long artifacts are kept.
func WithArtifactTTL(ttl time.Duration) RedisOption {
	return func(s *RedisRunStore) {
		if ttl > 0 {
			s.artifactTTL = ttl
		}
	}
}

// NewRedisRunStore wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisRunStore(client redis.UniversalClient, logger *zap.Logger, opts ...RedisOption) *RedisRunStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RedisRunStore{
		client:      client,
		prefix:      defaultKeyPrefix,
		terminalTTL: defaultTerminalTTL,
		artifactTTL: defaultArtifactTTL,
		logger:      logger.With(zap.String("component", "redis_store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisRunStore) runKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:state", s.prefix, runID)
}

func (s *RedisRunStore) artifactKey(runID, artifactID string) string {
	return fmt.Sprintf("%s:run:%s:artifact:%s", s.prefix, runID, artifactID)
}

func (s *RedisRunStore) activeSetKey() string {
	return fmt.Sprintf("%s:sys:active_runs", s.prefix)
}

// storageErr wraps a transport-level Redis failure as a retryable coded
// error, so RetryStore knows it may try again.
func storageErr(op string, err error) error {
	return types.NewError(types.ErrStorage, fmt.Sprintf("redis %s failed", op)).
		WithCause(err).WithRetryable(true)
}

// SaveRun implements RunStore. The snapshot write and the active-set update
// are pipelined so the index never drifts more than one failed pipeline from
// the truth.
func (s *RedisRunStore) SaveRun(ctx context.Context, snap *types.RunSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return types.NewError(types.ErrStorage, "marshal run snapshot").WithCause(err)
	}

	pipe := s.client.TxPipeline()
	if snap.Status.Terminal() {
		pipe.Set(ctx, s.runKey(snap.RunID), payload, s.terminalTTL)
		pipe.SRem(ctx, s.activeSetKey(), snap.RunID)
	} else {
		pipe.Set(ctx, s.runKey(snap.RunID), payload, 0)
		pipe.SAdd(ctx, s.activeSetKey(), snap.RunID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storageErr("save run", err)
	}
	return nil
}

// LoadRun implements RunStore.
func (s *RedisRunStore) LoadRun(ctx context.Context, runID string) (*types.RunSnapshot, error) {
	raw, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, storageErr("load run", err)
	}
	var snap types.RunSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, types.NewError(types.ErrStorage,
			fmt.Sprintf("corrupt snapshot for run %s", runID)).WithCause(err)
	}
	return &snap, nil
}

// ActiveRuns implements RunStore. Members whose snapshot key has expired are
// dropped from the index lazily.
func (s *RedisRunStore) ActiveRuns(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.activeSetKey()).Result()
	if err != nil {
		return nil, storageErr("list active runs", err)
	}
	live := ids[:0]
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, s.runKey(id)).Result()
		if err != nil {
			return nil, storageErr("check run key", err)
		}
		if exists == 0 {
			s.client.SRem(ctx, s.activeSetKey(), id)
			s.logger.Warn("dropping stale active-run index entry", zap.String("run_id", id))
			continue
		}
		live = append(live, id)
	}
	sort.Strings(live)
	return live, nil
}

// SaveArtifact implements ArtifactStore.
func (s *RedisRunStore) SaveArtifact(ctx context.Context, runID, artifactID string, payload []byte) error {
	if err := s.client.Set(ctx, s.artifactKey(runID, artifactID), payload, s.artifactTTL).Err(); err != nil {
		return storageErr("save artifact", err)
	}
	return nil
}

// LoadArtifact implements ArtifactStore.
func (s *RedisRunStore) LoadArtifact(ctx context.Context, runID, artifactID string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.artifactKey(runID, artifactID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewError(types.ErrStorage,
			fmt.Sprintf("artifact %s/%s not found", runID, artifactID))
	}
	if err != nil {
		return nil, storageErr("load artifact", err)
	}
	return raw, nil
}
