package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentgraph/types"
)

func newRedisStore(t *testing.T, opts ...RedisOption) (*RedisRunStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRunStore(client, zaptest.NewLogger(t), opts...), mr
}

func TestRedisRunStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	snap := snapshotFixture("run-1", types.RunRunning)
	require.NoError(t, store.SaveRun(ctx, snap))

	got, err := store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, snap.RunID, got.RunID)
	assert.Equal(t, snap.Status, got.Status)
	assert.Equal(t, snap.CompletedAgents, got.CompletedAgents)
	assert.Equal(t, snap.TotalTokensUsed, got.TotalTokensUsed)

	_, err = store.LoadRun(ctx, "run-ghost")
	assert.True(t, types.IsErrorCode(err, types.ErrRunNotFound))
}

func TestRedisRunStoreActiveIndex(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, store.SaveRun(ctx, snapshotFixture("run-a", types.RunRunning)))
	require.NoError(t, store.SaveRun(ctx, snapshotFixture("run-b", types.RunAwaitingApproval)))

	ids, err := store.ActiveRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b"}, ids)

	t.Run("terminal save leaves the index", func(t *testing.T) {
		require.NoError(t, store.SaveRun(ctx, snapshotFixture("run-a", types.RunCompleted)))
		ids, err := store.ActiveRuns(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"run-b"}, ids)
	})

	t.Run("terminal snapshot carries a ttl", func(t *testing.T) {
		ttl := mr.TTL("agentgraph:run:run-a:state")
		assert.Greater(t, ttl, time.Duration(0))
		assert.Equal(t, time.Duration(0), mr.TTL("agentgraph:run:run-b:state"))
	})

	t.Run("stale index entries are dropped lazily", func(t *testing.T) {
		mr.Del("agentgraph:run:run-b:state")
		ids, err := store.ActiveRuns(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestRedisRunStoreKeyPrefix(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, WithKeyPrefix("kernel"))

	require.NoError(t, store.SaveRun(ctx, snapshotFixture("run-1", types.RunRunning)))
	assert.True(t, mr.Exists("kernel:run:run-1:state"))
	assert.True(t, mr.Exists("kernel:sys:active_runs"))
}

func TestRedisArtifactStore(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, WithArtifactTTL(time.Hour))

	payload := []byte(`{"summary":"findings"}`)
	require.NoError(t, store.SaveArtifact(ctx, "run-1", "art-1", payload))

	got, err := store.LoadArtifact(ctx, "run-1", "art-1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.Greater(t, mr.TTL("agentgraph:run:run-1:artifact:art-1"), time.Duration(0))

	_, err = store.LoadArtifact(ctx, "run-1", "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrStorage))
}

func TestRedisRunStoreTransportErrorIsRetryable(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	mr.Close()

	err := store.SaveRun(ctx, snapshotFixture("run-1", types.RunRunning))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStorage))
	assert.True(t, types.IsRetryable(err))
}
