package repository

import (
	"path/filepath"
	"testing"

	"relic-crawler/internal/config"
	"relic-crawler/internal/database"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBPath:    filepath.Join(t.TempDir(), "test.db"),
		ChunkSize: 50,
	}
}

func newTestDB(t *testing.T, cfg *config.Config) *sqlx.DB {
	t.Helper()
	db, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }
