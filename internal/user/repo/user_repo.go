package repo

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/utilities"
)

var userColumns = []string{
	"id", "username", "email", "password_hash", "password_algo", "status", "user_type",
	"deletion_requested_at", "pending_deletion_at", "created_at", "updated_at",
}

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
	sb sq.StatementBuilderType
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db, sb: database.StatementBuilder(db.DriverName())}
}

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id VARCHAR(32) PRIMARY KEY,
  username VARCHAR(64) UNIQUE,
  email VARCHAR(255) UNIQUE,
  password_hash TEXT,
  password_algo VARCHAR(32),
  status VARCHAR(16) NOT NULL DEFAULT 'active',
  user_type VARCHAR(16) NOT NULL DEFAULT 'member',
  deletion_requested_at BIGINT NOT NULL DEFAULT 0,
  pending_deletion_at BIGINT NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_pending_deletion_at ON users(pending_deletion_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return errors.Wrap(err, "ensure users table")
}

// Create inserts a new user row. Missing id and timestamps are filled in.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (string, error) {
	if u.ID == "" {
		u.ID = utilities.NewSnowflakeID()
	}
	now := time.Now().Unix()
	if u.CreatedAt == 0 {
		u.CreatedAt = now
	}
	if u.UpdatedAt == 0 {
		u.UpdatedAt = u.CreatedAt
	}
	if u.Status == "" {
		u.Status = entity.StatusActive
	}
	if u.UserType == "" {
		u.UserType = entity.TypeMember
	}
	query, args, err := r.sb.Insert("users").Columns(userColumns...).Values(
		u.ID, u.Username, u.Email, u.PasswordHash, u.PasswordAlgo, u.Status, u.UserType,
		u.DeletionRequestedAt, u.PendingDeletionAt, u.CreatedAt, u.UpdatedAt,
	).ToSql()
	if err != nil {
		return "", errors.Wrap(err, "build insert user")
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return "", errors.Wrapf(err, "insert user %s", u.ID)
	}
	return u.ID, nil
}

func (r *UserRepo) getOne(ctx context.Context, where sq.Sqlizer) (*entity.User, error) {
	query, args, err := r.sb.Select(userColumns...).From("users").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select user")
	}
	var u entity.User
	if err := r.db.GetContext(ctx, &u, query, args...); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns sql.ErrNoRows when the user does not exist.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, sq.Eq{"email": email})
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.getOne(ctx, sq.Eq{"username": username})
}

// SaveDeletionState writes the status and the deletion timestamps in a single
// statement so readers never observe a half-updated record.
func (r *UserRepo) SaveDeletionState(ctx context.Context, u *entity.User) error {
	u.UpdatedAt = time.Now().Unix()
	query, args, err := r.sb.Update("users").
		Set("status", u.Status).
		Set("deletion_requested_at", u.DeletionRequestedAt).
		Set("pending_deletion_at", u.PendingDeletionAt).
		Set("updated_at", u.UpdatedAt).
		Where(sq.Eq{"id": u.ID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build update deletion state")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update deletion state of %s", u.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeletePending removes the user only while a deletion is still scheduled.
// It reports false when the row is gone or the schedule was cleared.
func (r *UserRepo) DeletePending(ctx context.Context, id string) (bool, error) {
	query, args, err := r.sb.Delete("users").
		Where(sq.Eq{"id": id}).
		Where(sq.Gt{"pending_deletion_at": 0}).
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "build delete user")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "delete user %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// ListPendingDeletion returns users with a scheduled deletion, most recent request first.
func (r *UserRepo) ListPendingDeletion(ctx context.Context) ([]*entity.User, error) {
	return r.list(ctx, r.sb.Select(userColumns...).From("users").
		Where(sq.Gt{"pending_deletion_at": 0}).
		OrderBy("deletion_requested_at DESC", "id ASC"))
}

// ListOverdue returns pending users whose scheduled deletion time is at or before now.
func (r *UserRepo) ListOverdue(ctx context.Context, now int64) ([]*entity.User, error) {
	return r.list(ctx, r.sb.Select(userColumns...).From("users").
		Where(sq.Gt{"pending_deletion_at": 0}).
		Where(sq.LtOrEq{"pending_deletion_at": now}).
		OrderBy("pending_deletion_at ASC"))
}

func (r *UserRepo) list(ctx context.Context, b sq.SelectBuilder) ([]*entity.User, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build list users")
	}
	users := []*entity.User{}
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}
