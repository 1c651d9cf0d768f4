package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prospectia/enrichment-back/internal/domain"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *time.Time) {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: server.Addr()}, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	return store, &current
}

func TestRedisDequeueRespectsPriorityThenFIFO(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	low := 10
	high := 3

	first, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("a"), EnqueueOptions{Priority: &low})
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("b"), EnqueueOptions{Priority: &high})
	require.NoError(t, err)
	third, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("c"), EnqueueOptions{Priority: &high})
	require.NoError(t, err)

	for _, want := range []string{second, third, first} {
		job, err := store.Dequeue(ctx, domain.JobTypeAnalysis)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
		assert.Equal(t, domain.JobStateActive, job.State)
	}
}

func TestRedisDequeueMovesJobToActiveSet(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	jobID, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("a"), EnqueueOptions{})
	require.NoError(t, err)

	job, err := store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)

	stats, err := store.Stats(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, 1, stats.Active)
}

func TestRedisStaleActiveJobIsRequeued(t *testing.T) {
	store, current := newRedisTestStore(t)
	ctx := context.Background()

	jobID, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("a"), EnqueueOptions{})
	require.NoError(t, err)

	claimed, err := store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// The worker holding the claim dies without reporting back. Before the
	// lock timeout elapses the claim holds.
	*current = current.Add(store.lockTimeout - time.Second)
	job, err := store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Nil(t, job)

	*current = current.Add(2 * time.Second)
	job, err = store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	require.NotNil(t, job, "claim past the lock timeout must be requeued")
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, 0, job.Attempts, "a reclaim is not a consumed attempt")

	stats, err := store.Stats(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 0, stats.Waiting)
}

func TestRedisCompletedJobIsNotReclaimed(t *testing.T) {
	store, current := newRedisTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("a"), EnqueueOptions{})
	require.NoError(t, err)

	job, err := store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, store.Complete(ctx, job.ID, payloadFor("done")))

	*current = current.Add(store.lockTimeout + time.Minute)
	next, err := store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Nil(t, next)

	stats, err := store.Stats(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Completed)
}

func TestRedisDequeueDropsClaimWithMissingBody(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	orphanID, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("gone"), EnqueueOptions{})
	require.NoError(t, err)
	keptID, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("kept"), EnqueueOptions{})
	require.NoError(t, err)

	// The body vanished out from under the queue entry.
	require.NoError(t, store.client.Del(ctx, store.jobKey(orphanID)).Err())

	job, err := store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, keptID, job.ID)

	stats, err := store.Stats(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active, "the bodyless claim must not linger on the active set")
}

func TestRedisFailReschedulesWithBackoff(t *testing.T) {
	store, current := newRedisTestStore(t)
	ctx := context.Background()

	jobID, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("a"), EnqueueOptions{})
	require.NoError(t, err)

	job, err := store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, store.Fail(ctx, jobID, assert.AnError))

	stats, err := store.Stats(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delayed)
	assert.Equal(t, 0, stats.Active)

	*current = current.Add(3 * time.Second)
	job, err = store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, 1, job.Attempts)
}

func TestRedisDedupeReturnsExistingJob(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("a"), EnqueueOptions{DedupeKey: "analysis:p1:u1"})
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, domain.JobTypeAnalysis, payloadFor("a"), EnqueueOptions{DedupeKey: "analysis:p1:u1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats, err := store.Stats(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
}
