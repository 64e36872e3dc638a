package repo

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/database"
)

// Repo stores settings documents.
type Repo struct {
	db *sqlx.DB
	sb sq.StatementBuilderType
}

func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db, sb: database.StatementBuilder(db.DriverName())}
}

// EnsureTable ensures the settings table and its index exist.
func (r *Repo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS settings (
  id VARCHAR(32) PRIMARY KEY,
  category VARCHAR(32) NOT NULL DEFAULT '',
  value TEXT NOT NULL,
  version BIGINT NOT NULL DEFAULT 1,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settings_category ON settings(category);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return errors.Wrap(err, "ensure settings table")
}

// GetByID returns sql.ErrNoRows when the setting is absent.
func (r *Repo) GetByID(ctx context.Context, id string) (*entity.Setting, error) {
	query, args, err := r.sb.Select("id", "category", "value", "version", "updated_at").
		From("settings").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select setting")
	}
	var st entity.Setting
	if err := r.db.GetContext(ctx, &st, query, args...); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *Repo) Create(ctx context.Context, st *entity.Setting) error {
	query, args, err := r.sb.Insert("settings").
		Columns("id", "category", "value", "version", "updated_at").
		Values(st.ID, st.Category, st.Value, st.Version, st.UpdatedAt).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build insert setting")
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return errors.Wrapf(err, "insert setting %s", st.ID)
}

// Update writes st only if the stored version equals expected and returns the
// number of rows changed.
func (r *Repo) Update(ctx context.Context, st *entity.Setting, expected int64) (int64, error) {
	query, args, err := r.sb.Update("settings").
		Set("category", st.Category).
		Set("value", st.Value).
		Set("version", st.Version).
		Set("updated_at", st.UpdatedAt).
		Where(sq.Eq{"id": st.ID, "version": expected}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build update setting")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "update setting %s", st.ID)
	}
	return res.RowsAffected()
}
