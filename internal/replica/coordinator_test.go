package replica_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/inbetweenies/graphsync/internal/replica"
	"github.com/inbetweenies/graphsync/internal/syncengine"
	"github.com/inbetweenies/graphsync/internal/types"
	"github.com/stretchr/testify/require"
)

func rec(id string) types.ChangeRecord {
	return types.ChangeRecord{
		Kind: types.ChangeCreate, EntityID: id, Version: "v1-alice",
		EntityType: types.EntityRoom, Name: "Room", OriginNodeID: "node-a",
		Timestamp: time.Now(),
	}
}

func TestEnqueueAndDrainRespectsMaxRecords(t *testing.T) {
	dir := t.TempDir()
	c, err := replica.New(filepath.Join(dir, "queue.jsonl"))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Enqueue(ctx, rec("e1")))
	require.NoError(t, c.Enqueue(ctx, rec("e2")))
	require.NoError(t, c.Enqueue(ctx, rec("e3")))
	require.Equal(t, 3, c.Len())

	batch, err := c.Drain(ctx, syncengine.BatchLimits{MaxRecords: 2, MaxBytes: 10 * 1024 * 1024})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, 1, c.Len())
}

func TestRequeuePutsRecordsBackInFront(t *testing.T) {
	dir := t.TempDir()
	c, err := replica.New(filepath.Join(dir, "queue.jsonl"))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Enqueue(ctx, rec("later")))
	require.NoError(t, c.Requeue(ctx, []types.ChangeRecord{rec("earlier")}))

	batch, err := c.Drain(ctx, syncengine.BatchLimits{MaxRecords: 10, MaxBytes: 10 * 1024 * 1024})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, "earlier", batch[0].EntityID)
	require.Equal(t, "later", batch[1].EntityID)
}

func TestSuspendRejectsEnqueue(t *testing.T) {
	dir := t.TempDir()
	c, err := replica.New(filepath.Join(dir, "queue.jsonl"))
	require.NoError(t, err)
	defer c.Close()

	c.Suspend()
	require.True(t, c.Suspended())
	err = c.Enqueue(context.Background(), rec("e1"))
	require.Error(t, err)

	c.Resume()
	require.NoError(t, c.Enqueue(context.Background(), rec("e1")))
}

func TestHealthyDefaultsTrueAndTracksSetHealthy(t *testing.T) {
	dir := t.TempDir()
	c, err := replica.New(filepath.Join(dir, "queue.jsonl"))
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Healthy())
	c.SetHealthy(false)
	require.False(t, c.Healthy())
}

func TestNewReloadsQueuePersistedByPriorInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.jsonl")

	c1, err := replica.New(path)
	require.NoError(t, err)
	require.NoError(t, c1.Enqueue(context.Background(), rec("persisted")))
	require.NoError(t, c1.Close())

	c2, err := replica.New(path)
	require.NoError(t, err)
	defer c2.Close()
	require.Equal(t, 1, c2.Len())
}
