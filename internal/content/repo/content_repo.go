package repo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/content/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/utilities"
)

// deleteChunk bounds the IN list of a single DELETE.
const deleteChunk = 500

// ContentRepo stores authored content, one table per kind.
type ContentRepo struct {
	db *sqlx.DB
	sb sq.StatementBuilderType
}

func NewContentRepo(db *sqlx.DB) *ContentRepo {
	return &ContentRepo{db: db, sb: database.StatementBuilder(db.DriverName())}
}

// EnsureTables creates one table per known kind.
func (r *ContentRepo) EnsureTables(ctx context.Context) error {
	for _, k := range entity.Kinds {
		table, _ := k.Table()
		ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id VARCHAR(32) PRIMARY KEY,
  author_id VARCHAR(32) NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  body TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_author_id ON %[1]s(author_id);
`, table)
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return errors.Wrapf(err, "ensure %s table", table)
		}
	}
	return nil
}

func tableFor(k entity.Kind) (string, error) {
	table, ok := k.Table()
	if !ok {
		return "", errors.Errorf("unknown content kind %q", k)
	}
	return table, nil
}

// Create stores an item and returns its id.
func (r *ContentRepo) Create(ctx context.Context, k entity.Kind, item *entity.Item) (string, error) {
	table, err := tableFor(k)
	if err != nil {
		return "", err
	}
	if item.ID == "" {
		item.ID = utilities.NewSnowflakeID()
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().Unix()
	}
	query, args, err := r.sb.Insert(table).
		Columns("id", "author_id", "title", "body", "created_at").
		Values(item.ID, item.AuthorID, item.Title, item.Body, item.CreatedAt).
		ToSql()
	if err != nil {
		return "", errors.Wrapf(err, "build insert into %s", table)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return "", errors.Wrapf(err, "insert into %s", table)
	}
	return item.ID, nil
}

// FindAuthoredBy returns the ids of every item of kind k written by authorID.
func (r *ContentRepo) FindAuthoredBy(ctx context.Context, authorID string, k entity.Kind) ([]string, error) {
	table, err := tableFor(k)
	if err != nil {
		return nil, err
	}
	query, args, err := r.sb.Select("id").From(table).Where(sq.Eq{"author_id": authorID}).OrderBy("id").ToSql()
	if err != nil {
		return nil, errors.Wrapf(err, "build select from %s", table)
	}
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, errors.Wrapf(err, "select %s of %s", table, authorID)
	}
	return ids, nil
}

// DeleteMany removes the given items. Ids that no longer exist are ignored,
// so a cascade interrupted half way can simply run again.
func (r *ContentRepo) DeleteMany(ctx context.Context, k entity.Kind, ids []string) (int64, error) {
	table, err := tableFor(k)
	if err != nil {
		return 0, err
	}
	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := start + deleteChunk
		if end > len(ids) {
			end = len(ids)
		}
		query, args, err := r.sb.Delete(table).Where(sq.Eq{"id": ids[start:end]}).ToSql()
		if err != nil {
			return total, errors.Wrapf(err, "build delete from %s", table)
		}
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, errors.Wrapf(err, "delete from %s", table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, errors.Wrap(err, "rows affected")
		}
		total += n
	}
	return total, nil
}
