package cancellation

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/cancellation/entity"
	contententity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/content/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/notify"
	queueentity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/queue/entity"
	userentity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/entity"
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mock_cancellation . Notifier,SessionTerminator

const notifyTimeout = 10 * time.Second

// AccountStore loads and persists accounts. GetByID returns sql.ErrNoRows
// for unknown ids.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*userentity.User, error)
	SaveDeletionState(ctx context.Context, u *userentity.User) error
	DeletePending(ctx context.Context, id string) (bool, error)
	ListPendingDeletion(ctx context.Context) ([]*userentity.User, error)
	ListOverdue(ctx context.Context, now int64) ([]*userentity.User, error)
}

// ContentStore finds and removes authored content.
type ContentStore interface {
	FindAuthoredBy(ctx context.Context, authorID string, k contententity.Kind) ([]string, error)
	DeleteMany(ctx context.Context, k contententity.Kind, ids []string) (int64, error)
}

// TaskQueue accepts deletion tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, t *queueentity.DeletionTask) error
	HasTask(ctx context.Context, subjectID string) (bool, error)
}

// Notifier is fire-and-forget: errors are logged, never propagated.
type Notifier interface {
	Send(ctx context.Context, subjectID, tmpl string, params map[string]string) error
}

// SessionTerminator ends every login session of a user.
type SessionTerminator interface {
	TerminateSessions(ctx context.Context, userID string) error
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, string, string, map[string]string) error { return nil }

type nopSessions struct{}

func (nopSessions) TerminateSessions(context.Context, string) error { return nil }

type Dependencies struct {
	Accounts AccountStore
	Content  ContentStore
	Queue    TaskQueue
	Notifier Notifier
	Sessions SessionTerminator
	Config   ConfigSource
	Clock    clockwork.Clock
	Logger   *zap.SugaredLogger
}

// Service runs the cancel, grace period, delete workflow. Check-then-act
// sequences hold a per-subject lock.
type Service struct {
	accounts AccountStore
	content  ContentStore
	queue    TaskQueue
	notifier Notifier
	sessions SessionTerminator
	config   ConfigSource
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
	locks    *KeyedMutex
}

func NewService(d Dependencies) *Service {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.Config == nil {
		d.Config = StaticConfig(DefaultConfig())
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Sessions == nil {
		d.Sessions = nopSessions{}
	}
	return &Service{
		accounts: d.Accounts,
		content:  d.Content,
		queue:    d.Queue,
		notifier: d.Notifier,
		sessions: d.Sessions,
		config:   d.Config,
		clock:    d.Clock,
		logger:   d.Logger,
		locks:    NewKeyedMutex(),
	}
}

func (s *Service) load(ctx context.Context, subjectID string) (*userentity.User, error) {
	u, err := s.accounts.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, dependency("load account", err)
	}
	return u, nil
}

func recordOf(u *userentity.User) entity.DeletionRecord {
	return entity.NewRecord(u.ID, u.DeletionRequestedAt, u.PendingDeletionAt)
}

// Record returns the deletion state of the subject, ErrNotFound once deleted.
func (s *Service) Record(ctx context.Context, subjectID string) (entity.DeletionRecord, error) {
	u, err := s.load(ctx, subjectID)
	if err != nil {
		return entity.DeletionRecord{SubjectID: subjectID, State: entity.StateDeleted}, err
	}
	return recordOf(u), nil
}

// RequestCancellation deactivates the subject and schedules its deletion
// after the grace period. A repeated request keeps the existing schedule.
// actorID is the caller; when it is the subject, its sessions are ended.
func (s *Service) RequestCancellation(ctx context.Context, subjectID, actorID string) (entity.DeletionRecord, error) {
	unlock := s.locks.Lock(subjectID)
	defer unlock()

	u, err := s.load(ctx, subjectID)
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		return entity.DeletionRecord{}, err
	}
	if u.PendingDeletion() {
		requestsTotal.WithLabelValues("already_pending").Inc()
		s.logger.Infow("cancellation already pending", "subject_id", subjectID, "scheduled_at", u.PendingDeletionAt)
		return recordOf(u), nil
	}

	cfg := s.config.Current(ctx)
	now := s.clock.Now()
	requestedAt := now.Unix()
	scheduledAt := now.Add(cfg.GracePeriod).Unix()

	// The task goes first: if saving fails the orphan task finds an active
	// record and is dropped.
	task := &queueentity.DeletionTask{SubjectID: subjectID, ScheduledAt: scheduledAt, EnqueuedAt: requestedAt}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		return recordOf(u), dependency("enqueue deletion task", err)
	}

	next := *u
	next.Status = userentity.StatusDisabled
	next.DeletionRequestedAt = requestedAt
	next.PendingDeletionAt = scheduledAt
	if err := s.accounts.SaveDeletionState(ctx, &next); err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, sql.ErrNoRows) {
			return recordOf(u), ErrNotFound
		}
		return recordOf(u), dependency("save account", err)
	}
	requestsTotal.WithLabelValues("scheduled").Inc()
	s.logger.Infow("account marked for deletion",
		"subject_id", subjectID, "actor_id", actorID, "requested_at", requestedAt, "scheduled_at", scheduledAt)

	if cfg.NotifyOnRequest {
		s.notify(ctx, &next, cfg)
	}
	if actorID == subjectID {
		if err := s.sessions.TerminateSessions(ctx, subjectID); err != nil {
			s.logger.Warnw("terminate sessions failed", "subject_id", subjectID, "err", err)
		}
	}
	return recordOf(&next), nil
}

func (s *Service) notify(ctx context.Context, u *userentity.User, cfg Config) {
	params := map[string]string{
		notify.ParamUsername:     u.DisplayName(),
		notify.ParamSite:         cfg.SiteName,
		notify.ParamDeletionDate: time.Unix(u.PendingDeletionAt, 0).UTC().Format(time.RFC1123),
	}
	if u.Email != nil {
		params[notify.ParamEmail] = *u.Email
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.Send(ctx, u.ID, notify.TemplatePendingDeletion, params); err != nil {
		s.logger.Warnw("deletion notice not sent", "subject_id", u.ID, "err", err)
	}
}

// CancelPendingDeletion reactivates the subject and clears the schedule.
// Queued tasks are left alone; the processor drops them as stale.
func (s *Service) CancelPendingDeletion(ctx context.Context, subjectID string) (entity.DeletionRecord, error) {
	unlock := s.locks.Lock(subjectID)
	defer unlock()

	u, err := s.load(ctx, subjectID)
	if err != nil {
		return entity.DeletionRecord{}, err
	}
	if !u.PendingDeletion() {
		return recordOf(u), ErrInvalidState
	}
	next := *u
	next.Status = userentity.StatusActive
	next.DeletionRequestedAt = 0
	next.PendingDeletionAt = 0
	if err := s.accounts.SaveDeletionState(ctx, &next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return recordOf(u), ErrNotFound
		}
		return recordOf(u), dependency("save account", err)
	}
	s.logger.Infow("pending deletion cancelled", "subject_id", subjectID)
	return recordOf(&next), nil
}

// ExecuteDeletion removes the configured content kinds and then the account.
// It is a no-op for active or already deleted subjects.
func (s *Service) ExecuteDeletion(ctx context.Context, subjectID string) (entity.DeletionReport, error) {
	unlock := s.locks.Lock(subjectID)
	defer unlock()

	report := entity.DeletionReport{SubjectID: subjectID, Outcome: entity.OutcomeSkippedStale}
	u, err := s.load(ctx, subjectID)
	if errors.Is(err, ErrNotFound) {
		report.Reason = "already deleted"
		return report, nil
	}
	if err != nil {
		return report, err
	}
	if !u.PendingDeletion() {
		report.Reason = "not pending deletion"
		return report, nil
	}

	cfg := s.config.Current(ctx)
	report.ContentDeleted = map[string]int64{}
	for _, kind := range cfg.CascadeKinds() {
		ids, err := s.content.FindAuthoredBy(ctx, subjectID, kind)
		if err != nil {
			return report, dependency("find "+string(kind)+" content", err)
		}
		n, err := s.content.DeleteMany(ctx, kind, ids)
		if err != nil {
			return report, dependency("delete "+string(kind)+" content", err)
		}
		report.ContentDeleted[string(kind)] = n
	}
	if err := s.sessions.TerminateSessions(ctx, subjectID); err != nil {
		s.logger.Warnw("terminate sessions failed", "subject_id", subjectID, "err", err)
	}
	deleted, err := s.accounts.DeletePending(ctx, subjectID)
	if err != nil {
		return report, dependency("delete account", err)
	}
	if !deleted {
		// cleared or removed by another process after our check
		report.Reason = "schedule cleared concurrently"
		s.logger.Warnw("account not deleted, schedule changed", "subject_id", subjectID)
		return report, nil
	}
	report.Outcome = entity.OutcomeExecuted
	s.logger.Infow("account and content deleted", "subject_id", subjectID, "content", report.ContentDeleted)
	return report, nil
}

// ListPending returns pending subjects, most recent request first.
func (s *Service) ListPending(ctx context.Context) ([]entity.PendingDeletion, error) {
	users, err := s.accounts.ListPendingDeletion(ctx)
	if err != nil {
		return nil, dependency("list pending accounts", err)
	}
	now := s.clock.Now().Unix()
	out := make([]entity.PendingDeletion, 0, len(users))
	for _, u := range users {
		rec := recordOf(u)
		if !rec.Pending() {
			continue
		}
		out = append(out, entity.PendingDeletion{
			DeletionRecord: rec,
			Name:           u.DisplayName(),
			Email:          u.Email,
			Status:         rec.Label(now),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt > out[j].RequestedAt })
	return out, nil
}

// EnqueueOverdue adds a task for every overdue pending subject that has none.
// It recovers subjects whose task was lost or dropped after a failure.
func (s *Service) EnqueueOverdue(ctx context.Context) (int, error) {
	now := s.clock.Now().Unix()
	users, err := s.accounts.ListOverdue(ctx, now)
	if err != nil {
		return 0, dependency("list overdue accounts", err)
	}
	n := 0
	for _, u := range users {
		has, err := s.queue.HasTask(ctx, u.ID)
		if err != nil {
			return n, dependency("check queued task", err)
		}
		if has {
			continue
		}
		task := &queueentity.DeletionTask{SubjectID: u.ID, ScheduledAt: u.PendingDeletionAt, EnqueuedAt: now}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return n, dependency("enqueue deletion task", err)
		}
		n++
	}
	if n > 0 {
		s.logger.Infow("overdue subjects re-enqueued", "count", n)
	}
	return n, nil
}
