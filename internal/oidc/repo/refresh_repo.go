package repo

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/database"
)

// RefreshSession is a persisted refresh session. Only the SHA-256 of the
// opaque token is stored.
type RefreshSession struct {
	ID        string `db:"id"`
	TokenHash string `db:"token_hash"`
	UserID    string `db:"user_id"`
	ClientID  string `db:"client_id"`
	ExpiresAt int64  `db:"expires_at"`
	CreatedAt int64  `db:"created_at"`
}

type RefreshRepo struct {
	db *sqlx.DB
	sb sq.StatementBuilderType
}

func NewRefreshRepo(db *sqlx.DB) *RefreshRepo {
	return &RefreshRepo{db: db, sb: database.StatementBuilder(db.DriverName())}
}

func (r *RefreshRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS oidc_refresh_sessions (
  id VARCHAR(32) PRIMARY KEY,
  token_hash VARCHAR(64) NOT NULL UNIQUE,
  user_id VARCHAR(32) NOT NULL,
  client_id TEXT NOT NULL DEFAULT '',
  expires_at BIGINT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oidc_refresh_sessions_user_id ON oidc_refresh_sessions(user_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return errors.Wrap(err, "ensure oidc_refresh_sessions table")
}

func (r *RefreshRepo) Save(ctx context.Context, s *RefreshSession) error {
	query, args, err := r.sb.Insert("oidc_refresh_sessions").
		Columns("id", "token_hash", "user_id", "client_id", "expires_at", "created_at").
		Values(s.ID, s.TokenHash, s.UserID, s.ClientID, s.ExpiresAt, s.CreatedAt).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build insert refresh session")
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return errors.Wrapf(err, "insert refresh session for %s", s.UserID)
}

// Get returns sql.ErrNoRows when the token is unknown.
func (r *RefreshRepo) Get(ctx context.Context, tokenHash string) (*RefreshSession, error) {
	query, args, err := r.sb.Select("id", "token_hash", "user_id", "client_id", "expires_at", "created_at").
		From("oidc_refresh_sessions").
		Where(sq.Eq{"token_hash": tokenHash}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select refresh session")
	}
	var s RefreshSession
	if err := r.db.GetContext(ctx, &s, query, args...); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RefreshRepo) Delete(ctx context.Context, tokenHash string) error {
	query, args, err := r.sb.Delete("oidc_refresh_sessions").Where(sq.Eq{"token_hash": tokenHash}).ToSql()
	if err != nil {
		return errors.Wrap(err, "build delete refresh session")
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "delete refresh session")
}

// DeleteByUser removes every session of the user and returns how many were removed.
func (r *RefreshRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	query, args, err := r.sb.Delete("oidc_refresh_sessions").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build delete user sessions")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "delete sessions of %s", userID)
	}
	return res.RowsAffected()
}
