package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnvSQLite(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_MAX_CONNS", "20")

	cfg := ConfigFromEnv()
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, 1, cfg.MaxConns)
	assert.Contains(t, cfg.DSN, "_journal_mode=WAL")
}

func TestConfigFromEnvPostgresDefault(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_MAX_CONNS", "8")

	cfg := ConfigFromEnv()
	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, 8, cfg.MaxConns)
	assert.Contains(t, cfg.DSN, "postgres://")
}

func TestStatementBuilderPlaceholders(t *testing.T) {
	query, args, err := StatementBuilder(DriverPostgres).
		Select("id").From("users").Where("id = ?", "1").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM users WHERE id = $1", query)
	assert.Equal(t, []interface{}{"1"}, args)

	query, _, err = StatementBuilder(DriverSQLite).
		Select("id").From("users").Where("id = ?", "1").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM users WHERE id = ?", query)
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db"), MaxConns: 1})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DriverSQLite, db.DriverName())
	var one int
	require.NoError(t, db.Get(&one, "SELECT 1"))
	assert.Equal(t, 1, one)
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'Europe/Berlin'", quoteLiteral("Europe/Berlin"))
	assert.Equal(t, "'it''s'", quoteLiteral("it's"))
}
