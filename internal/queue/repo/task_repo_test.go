package repo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/queue/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/database"
)

func newTestRepo(t *testing.T) *TaskRepo {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver:   database.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "queue.db"),
		MaxConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r := NewTaskRepo(db)
	require.NoError(t, r.EnsureTable(context.Background()))
	return r
}

func TestEnqueueLeaseAck(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	task := &entity.DeletionTask{SubjectID: "u1", ScheduledAt: 259200, EnqueuedAt: 0}
	require.NoError(t, r.Enqueue(ctx, task))
	require.NotEmpty(t, task.ID)

	has, err := r.HasTask(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, has)

	ids, err := r.Available(ctx, 100, 0)
	require.NoError(t, err)
	require.Equal(t, []string{task.ID}, ids)

	leased, err := r.Lease(ctx, ids, 100, 400)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, int64(400), leased[0].LeasedUntil)
	assert.Equal(t, int64(259200), leased[0].ScheduledAt)

	// a second consumer cannot claim it while leased
	again, err := r.Lease(ctx, ids, 200, 500)
	require.NoError(t, err)
	assert.Empty(t, again)
	ids, err = r.Available(ctx, 200, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, r.Ack(ctx, task.ID))
	n, err := r.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpiredLeaseIsRedelivered(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.Enqueue(ctx, &entity.DeletionTask{SubjectID: "u1", ScheduledAt: 10}))

	ids, err := r.Available(ctx, 0, 0)
	require.NoError(t, err)
	_, err = r.Lease(ctx, ids, 0, 60)
	require.NoError(t, err)

	ids, err = r.Available(ctx, 61, 0)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestRequeueKeepsSchedule(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	task := &entity.DeletionTask{SubjectID: "u1", ScheduledAt: 259200}
	require.NoError(t, r.Enqueue(ctx, task))
	leased, err := r.Lease(ctx, []string{task.ID}, 100000, 100060)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	copied, err := r.Requeue(ctx, leased[0], 100000)
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, copied.ID)
	assert.Equal(t, "u1", copied.SubjectID)
	assert.Equal(t, int64(259200), copied.ScheduledAt)
	assert.Zero(t, copied.LeasedUntil)

	ids, err := r.Available(ctx, 100000, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{copied.ID}, ids)
	n, err := r.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAvailableRespectsLimitAndOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for i, subject := range []string{"a", "b", "c"} {
		require.NoError(t, r.Enqueue(ctx, &entity.DeletionTask{SubjectID: subject, EnqueuedAt: int64(i)}))
	}
	ids, err := r.Available(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	leased, err := r.Lease(ctx, ids, 0, 10)
	require.NoError(t, err)
	require.Len(t, leased, 2)
	assert.Equal(t, "a", leased[0].SubjectID)
	assert.Equal(t, "b", leased[1].SubjectID)
}

func TestDue(t *testing.T) {
	task := entity.DeletionTask{ScheduledAt: 100}
	assert.False(t, task.Due(99))
	assert.True(t, task.Due(100))
}
