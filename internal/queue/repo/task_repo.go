package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/queue/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/utilities"
)

var taskColumns = []string{"id", "subject_id", "scheduled_at", "enqueued_at", "leased_until"}

// TaskRepo is a durable deletion task queue. Leased tasks that are never
// acknowledged become visible again once the lease runs out.
type TaskRepo struct {
	db *sqlx.DB
	sb sq.StatementBuilderType
}

func NewTaskRepo(db *sqlx.DB) *TaskRepo {
	return &TaskRepo{db: db, sb: database.StatementBuilder(db.DriverName())}
}

func (r *TaskRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS deletion_tasks (
  id VARCHAR(32) PRIMARY KEY,
  subject_id VARCHAR(32) NOT NULL,
  scheduled_at BIGINT NOT NULL,
  enqueued_at BIGINT NOT NULL,
  leased_until BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_deletion_tasks_subject_id ON deletion_tasks(subject_id);
CREATE INDEX IF NOT EXISTS idx_deletion_tasks_leased_until ON deletion_tasks(leased_until);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return errors.Wrap(err, "ensure deletion_tasks table")
}

// Enqueue stores t, assigning an id when missing.
func (r *TaskRepo) Enqueue(ctx context.Context, t *entity.DeletionTask) error {
	return r.insert(ctx, r.db, t)
}

func (r *TaskRepo) insert(ctx context.Context, ex sqlx.ExecerContext, t *entity.DeletionTask) error {
	if t.ID == "" {
		t.ID = utilities.NewKSUID()
	}
	query, args, err := r.sb.Insert("deletion_tasks").Columns(taskColumns...).
		Values(t.ID, t.SubjectID, t.ScheduledAt, t.EnqueuedAt, t.LeasedUntil).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build insert task")
	}
	_, err = ex.ExecContext(ctx, query, args...)
	return errors.Wrapf(err, "enqueue task for %s", t.SubjectID)
}

// Available returns ids of unleased tasks in enqueue order. Callers use it to
// fix the snapshot a drain works on.
func (r *TaskRepo) Available(ctx context.Context, now int64, limit uint64) ([]string, error) {
	b := r.sb.Select("id").From("deletion_tasks").
		Where(sq.LtOrEq{"leased_until": now}).
		OrderBy("enqueued_at ASC", "id ASC")
	if limit > 0 {
		b = b.Limit(limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select available tasks")
	}
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, errors.Wrap(err, "select available tasks")
	}
	return ids, nil
}

// Lease claims the given tasks until `until`. Tasks already leased by someone
// else, or gone, are left out of the result.
func (r *TaskRepo) Lease(ctx context.Context, ids []string, now, until int64) (tasks []entity.DeletionTask, err error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin lease")
	}
	defer func() { err = finalizeTransaction(tx, err) }()

	claimed := make([]string, 0, len(ids))
	for _, id := range ids {
		query, args, err := r.sb.Update("deletion_tasks").
			Set("leased_until", until).
			Where(sq.Eq{"id": id}).
			Where(sq.LtOrEq{"leased_until": now}).
			ToSql()
		if err != nil {
			return nil, errors.Wrap(err, "build lease update")
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, errors.Wrapf(err, "lease task %s", id)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			claimed = append(claimed, id)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	query, args, err := r.sb.Select(taskColumns...).From("deletion_tasks").
		Where(sq.Eq{"id": claimed}).
		OrderBy("enqueued_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select leased tasks")
	}
	if err := tx.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, errors.Wrap(err, "select leased tasks")
	}
	return tasks, nil
}

// Ack removes a finished task.
func (r *TaskRepo) Ack(ctx context.Context, id string) error {
	query, args, err := r.sb.Delete("deletion_tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "build delete task")
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return errors.Wrapf(err, "ack task %s", id)
}

// Requeue replaces t with an unleased copy carrying the same subject and
// schedule. Both writes happen in one transaction.
func (r *TaskRepo) Requeue(ctx context.Context, t entity.DeletionTask, now int64) (copied entity.DeletionTask, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return copied, errors.Wrap(err, "begin requeue")
	}
	defer func() { err = finalizeTransaction(tx, err) }()

	copied = entity.DeletionTask{SubjectID: t.SubjectID, ScheduledAt: t.ScheduledAt, EnqueuedAt: now}
	if err := r.insert(ctx, tx, &copied); err != nil {
		return copied, err
	}
	query, args, err := r.sb.Delete("deletion_tasks").Where(sq.Eq{"id": t.ID}).ToSql()
	if err != nil {
		return copied, errors.Wrap(err, "build delete task")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return copied, errors.Wrapf(err, "delete requeued task %s", t.ID)
	}
	return copied, nil
}

// HasTask reports whether any task, leased or not, exists for the subject.
func (r *TaskRepo) HasTask(ctx context.Context, subjectID string) (bool, error) {
	n, err := r.count(ctx, sq.Eq{"subject_id": subjectID})
	return n > 0, err
}

// Len returns the number of queued tasks.
func (r *TaskRepo) Len(ctx context.Context) (int, error) {
	return r.count(ctx, sq.Expr("1 = 1"))
}

func (r *TaskRepo) count(ctx context.Context, where sq.Sqlizer) (int, error) {
	query, args, err := r.sb.Select("COUNT(*)").From("deletion_tasks").Where(where).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build count tasks")
	}
	var n int
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errors.Wrap(err, "count tasks")
	}
	return n, nil
}

func finalizeTransaction(tx *sqlx.Tx, err error) error {
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return errors.Wrapf(err, "rollback failed: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}
