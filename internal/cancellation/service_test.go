package cancellation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/cancellation"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/cancellation/entity"
	mock_cancellation "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/cancellation/mocks"
	contententity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/content/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/notify"
	userentity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/entity"
)

const grace = 259200

type harness struct {
	svc      *cancellation.Service
	proc     *cancellation.Processor
	accounts *fakeAccounts
	content  *fakeContent
	queue    *fakeQueue
	clock    *clockwork.FakeClock
	notifier *mock_cancellation.MockNotifier
	sessions *mock_cancellation.MockSessionTerminator
}

func testConfig() cancellation.Config {
	cfg := cancellation.DefaultConfig()
	cfg.GracePeriod = grace * time.Second
	return cfg
}

func newHarness(t *testing.T, cfg cancellation.Config) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		accounts: newFakeAccounts(),
		content:  newFakeContent(),
		queue:    &fakeQueue{},
		clock:    clockwork.NewFakeClockAt(time.Unix(0, 0)),
		notifier: mock_cancellation.NewMockNotifier(ctrl),
		sessions: mock_cancellation.NewMockSessionTerminator(ctrl),
	}
	h.svc = cancellation.NewService(cancellation.Dependencies{
		Accounts: h.accounts,
		Content:  h.content,
		Queue:    h.queue,
		Notifier: h.notifier,
		Sessions: h.sessions,
		Config:   cancellation.StaticConfig(cfg),
		Clock:    h.clock,
		Logger:   zap.NewNop().Sugar(),
	})
	h.proc = cancellation.NewProcessor(h.svc, h.queue)
	return h
}

// allowSideEffects accepts any number of notifications and session terminations.
func (h *harness) allowSideEffects() {
	h.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	h.sessions.EXPECT().TerminateSessions(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (h *harness) advanceTo(unix int64) {
	h.clock.Advance(time.Unix(unix, 0).Sub(h.clock.Now()))
}

func TestRequestCancellationSchedulesDeletion(t *testing.T) {
	h := newHarness(t, testConfig())
	h.accounts.add("u1", "u1@example.com")
	ctx := context.Background()

	var sent map[string]string
	h.notifier.EXPECT().Send(gomock.Any(), "u1", notify.TemplatePendingDeletion, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, params map[string]string) error {
			sent = params
			return nil
		}).Times(1)
	h.sessions.EXPECT().TerminateSessions(gomock.Any(), "u1").Return(nil).Times(1)

	rec, err := h.svc.RequestCancellation(ctx, "u1", "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatePendingDeletion, rec.State)
	assert.Equal(t, int64(0), rec.RequestedAt)
	assert.Equal(t, int64(grace), rec.ScheduledAt)

	u, ok := h.accounts.get("u1")
	require.True(t, ok)
	assert.Equal(t, userentity.StatusDisabled, u.Status)
	assert.Equal(t, int64(grace), u.PendingDeletionAt)

	tasks := h.queue.snapshot()
	require.Len(t, tasks, 1)
	assert.Equal(t, "u1", tasks[0].SubjectID)
	assert.Equal(t, int64(grace), tasks[0].ScheduledAt)

	assert.Equal(t, "u1@example.com", sent[notify.ParamEmail])
	assert.Equal(t, "u1", sent[notify.ParamUsername])
	assert.Equal(t, time.Unix(grace, 0).UTC().Format(time.RFC1123), sent[notify.ParamDeletionDate])
}

func TestRequestByAdminKeepsSubjectSessions(t *testing.T) {
	h := newHarness(t, testConfig())
	h.accounts.add("u1", "")
	h.notifier.EXPECT().Send(gomock.Any(), "u1", gomock.Any(), gomock.Any()).Return(nil)
	// no TerminateSessions expectation: a call fails the test

	_, err := h.svc.RequestCancellation(context.Background(), "u1", "admin")
	require.NoError(t, err)
}

func TestRequestCancellationNotFound(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.svc.RequestCancellation(context.Background(), "ghost", "ghost")
	assert.ErrorIs(t, err, cancellation.ErrNotFound)
	assert.Empty(t, h.queue.snapshot())
}

func TestRequestWithoutNotification(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyOnRequest = false
	h := newHarness(t, cfg)
	h.accounts.add("u1", "u1@example.com")

	_, err := h.svc.RequestCancellation(context.Background(), "u1", "admin")
	require.NoError(t, err)
}

func TestNotifierFailureDoesNotBlockRequest(t *testing.T) {
	h := newHarness(t, testConfig())
	h.accounts.add("u1", "u1@example.com")
	h.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))
	h.sessions.EXPECT().TerminateSessions(gomock.Any(), "u1").Return(errors.New("session store down"))

	rec, err := h.svc.RequestCancellation(context.Background(), "u1", "u1")
	require.NoError(t, err)
	assert.True(t, rec.Pending())
}

func TestRepeatedRequestKeepsSchedule(t *testing.T) {
	h := newHarness(t, testConfig())
	h.accounts.add("u1", "")
	h.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	ctx := context.Background()

	_, err := h.svc.RequestCancellation(ctx, "u1", "admin")
	require.NoError(t, err)
	h.advanceTo(1000)
	rec, err := h.svc.RequestCancellation(ctx, "u1", "admin")
	require.NoError(t, err)

	assert.Equal(t, int64(0), rec.RequestedAt)
	assert.Equal(t, int64(grace), rec.ScheduledAt)
	assert.Len(t, h.queue.snapshot(), 1)
}

func TestEnqueueFailureLeavesRecordActive(t *testing.T) {
	h := newHarness(t, testConfig())
	h.accounts.add("u1", "")
	h.queue.failEnqueue = errors.New("queue down")

	_, err := h.svc.RequestCancellation(context.Background(), "u1", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, cancellation.ErrDependency)
	var depErr *cancellation.DependencyError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, "enqueue deletion task", depErr.Op)

	rec, err := h.svc.Record(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.StateActive, rec.State)
}

func TestSaveFailureLeavesOnlyAStaleTask(t *testing.T) {
	h := newHarness(t, testConfig())
	h.accounts.add("u1", "")
	h.accounts.failSave = errors.New("db down")
	ctx := context.Background()

	_, err := h.svc.RequestCancellation(ctx, "u1", "u1")
	assert.ErrorIs(t, err, cancellation.ErrDependency)

	rec, err := h.svc.Record(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.StateActive, rec.State)
	assert.Zero(t, rec.RequestedAt)
	assert.Zero(t, rec.ScheduledAt)

	h.accounts.failSave = nil
	h.advanceTo(300000)
	summary, err := h.proc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	_, ok := h.accounts.get("u1")
	assert.True(t, ok)
}

func TestRequestThenCancelRestoresActive(t *testing.T) {
	h := newHarness(t, testConfig())
	h.allowSideEffects()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		h.accounts.add(id, "")
		_, err := h.svc.RequestCancellation(ctx, id, id)
		require.NoError(t, err)

		rec, err := h.svc.CancelPendingDeletion(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.StateActive, rec.State)

		u, ok := h.accounts.get(id)
		require.True(t, ok)
		assert.True(t, u.Active())
		assert.Zero(t, u.DeletionRequestedAt)
		assert.Zero(t, u.PendingDeletionAt)
	}
}

func TestCancelActiveIsInvalidState(t *testing.T) {
	h := newHarness(t, testConfig())
	h.accounts.add("u1", "")

	_, err := h.svc.CancelPendingDeletion(context.Background(), "u1")
	assert.ErrorIs(t, err, cancellation.ErrInvalidState)

	_, err = h.svc.CancelPendingDeletion(context.Background(), "ghost")
	assert.ErrorIs(t, err, cancellation.ErrNotFound)
}

func TestExecuteDeletionOnActiveIsNoop(t *testing.T) {
	h := newHarness(t, testConfig())
	h.accounts.add("u1", "")
	h.content.add(contententity.KindNode, "u1", 2)

	report, err := h.svc.ExecuteDeletion(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeSkippedStale, report.Outcome)
	_, ok := h.accounts.get("u1")
	assert.True(t, ok)
	assert.Equal(t, 2, h.content.count(contententity.KindNode, "u1"))
}

func TestExecuteDeletionIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.allowSideEffects()
	h.accounts.add("u1", "")
	h.content.add(contententity.KindNode, "u1", 3)
	h.content.add(contententity.KindComment, "u1", 2)
	h.content.add(contententity.KindNode, "u2", 1)
	ctx := context.Background()

	_, err := h.svc.RequestCancellation(ctx, "u1", "u1")
	require.NoError(t, err)

	report, err := h.svc.ExecuteDeletion(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeExecuted, report.Outcome)
	assert.Equal(t, map[string]int64{"node": 3, "comment": 2}, report.ContentDeleted)
	assert.Zero(t, h.content.count(contententity.KindNode, "u1"))
	assert.Zero(t, h.content.count(contententity.KindComment, "u1"))
	assert.Equal(t, 1, h.content.count(contententity.KindNode, "u2"))

	report, err = h.svc.ExecuteDeletion(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeSkippedStale, report.Outcome)
	assert.Equal(t, "already deleted", report.Reason)

	_, err = h.svc.Record(ctx, "u1")
	assert.ErrorIs(t, err, cancellation.ErrNotFound)
}

func TestExecuteDeletionCascadesOnlyConfiguredKinds(t *testing.T) {
	cfg := testConfig()
	cfg.ContentKinds = []contententity.Kind{contententity.KindNode}
	h := newHarness(t, cfg)
	h.allowSideEffects()
	h.accounts.add("u1", "")
	h.content.add(contententity.KindNode, "u1", 1)
	h.content.add(contententity.KindComment, "u1", 1)
	ctx := context.Background()

	_, err := h.svc.RequestCancellation(ctx, "u1", "u1")
	require.NoError(t, err)
	_, err = h.svc.ExecuteDeletion(ctx, "u1")
	require.NoError(t, err)

	assert.Zero(t, h.content.count(contententity.KindNode, "u1"))
	assert.Equal(t, 1, h.content.count(contententity.KindComment, "u1"))
}

func TestExecuteDeletionWithContentDeletionDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DeleteContent = false
	h := newHarness(t, cfg)
	h.allowSideEffects()
	h.accounts.add("u1", "")
	h.content.add(contententity.KindNode, "u1", 1)
	ctx := context.Background()

	_, err := h.svc.RequestCancellation(ctx, "u1", "u1")
	require.NoError(t, err)
	report, err := h.svc.ExecuteDeletion(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeExecuted, report.Outcome)
	assert.Equal(t, 1, h.content.count(contententity.KindNode, "u1"))
}

func TestExecuteDeletionContentFailureKeepsAccount(t *testing.T) {
	h := newHarness(t, testConfig())
	h.allowSideEffects()
	h.accounts.add("u1", "")
	ctx := context.Background()
	_, err := h.svc.RequestCancellation(ctx, "u1", "u1")
	require.NoError(t, err)

	h.content.failFind = errors.New("content db down")
	_, err = h.svc.ExecuteDeletion(ctx, "u1")
	assert.ErrorIs(t, err, cancellation.ErrDependency)

	rec, err := h.svc.Record(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Pending())
}

func TestListPendingOrderAndLabels(t *testing.T) {
	h := newHarness(t, testConfig())
	h.allowSideEffects()
	ctx := context.Background()
	h.accounts.add("early", "")
	h.accounts.add("late", "")
	h.accounts.add("idle", "")

	h.advanceTo(10)
	_, err := h.svc.RequestCancellation(ctx, "early", "early")
	require.NoError(t, err)
	h.advanceTo(20)
	_, err = h.svc.RequestCancellation(ctx, "late", "late")
	require.NoError(t, err)

	items, err := h.svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "late", items[0].SubjectID)
	assert.Equal(t, "early", items[1].SubjectID)
	assert.Equal(t, entity.LabelPending, items[0].Status)
	assert.Equal(t, entity.LabelPending, items[1].Status)

	h.advanceTo(10 + grace)
	items, err = h.svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.LabelPending, items[0].Status)
	assert.Equal(t, entity.LabelReadyForDeletion, items[1].Status)
}

func TestEnqueueOverdueAddsMissingTasks(t *testing.T) {
	h := newHarness(t, testConfig())
	h.allowSideEffects()
	ctx := context.Background()
	h.accounts.add("u1", "")
	h.accounts.add("u2", "")
	_, err := h.svc.RequestCancellation(ctx, "u1", "u1")
	require.NoError(t, err)
	_, err = h.svc.RequestCancellation(ctx, "u2", "u2")
	require.NoError(t, err)

	// lose u1's task
	for _, task := range h.queue.snapshot() {
		if task.SubjectID == "u1" {
			require.NoError(t, h.queue.Ack(ctx, task.ID))
		}
	}

	n, err := h.svc.EnqueueOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is overdue yet")

	h.advanceTo(grace)
	n, err = h.svc.EnqueueOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, h.queue.snapshot(), 2)
}

func TestConcurrentCancelAndExecuteNeverHalfDelete(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t, testConfig())
		h.allowSideEffects()
		ctx := context.Background()
		h.accounts.add("u1", "")
		h.content.add(contententity.KindNode, "u1", 3)
		_, err := h.svc.RequestCancellation(ctx, "u1", "u1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.svc.CancelPendingDeletion(ctx, "u1")
		}()
		go func() {
			defer wg.Done()
			_, _ = h.svc.ExecuteDeletion(ctx, "u1")
		}()
		wg.Wait()

		u, exists := h.accounts.get("u1")
		if exists {
			assert.True(t, u.Active())
			assert.Zero(t, u.PendingDeletionAt)
			assert.Equal(t, 3, h.content.count(contententity.KindNode, "u1"))
		} else {
			assert.Zero(t, h.content.count(contententity.KindNode, "u1"))
		}
	}
}
