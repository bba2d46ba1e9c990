package database

import (
	"path/filepath"
	"testing"

	"seevideo/automation/internal/config"
	"seevideo/automation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(path string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Mode: "release"},
		Database: config.DatabaseConfig{Driver: "sqlite", Path: path, AutoMigrate: true},
	}
}

func TestOpenCreatesFileAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deployments.db")

	db, err := Open(sqliteConfig(path))
	require.NoError(t, err)

	assert.FileExists(t, path)
	for _, table := range []string{"video_generations", "users", "credit_transactions"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
}

func TestInitDatabaseSetsGlobal(t *testing.T) {
	require.NoError(t, InitDatabase(sqliteConfig(":memory:")))
	require.NotNil(t, DB)

	gen := models.VideoGeneration{ID: "row-1", Status: models.StatusPending}
	require.NoError(t, DB.Create(&gen).Error)

	var got models.VideoGeneration
	require.NoError(t, DB.First(&got, "id = ?", "row-1").Error)
	assert.NotZero(t, got.CreatedAt)
	assert.Equal(t, 0, got.Refunded)
}

// Tables created by see-video-server carry their own constraints and
// defaults; opening the file must keep them and only fill in what is missing.
func TestOpenKeepsExistingSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments.db")

	cfg := sqliteConfig(path)
	cfg.Database.AutoMigrate = false
	seed, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, seed.Exec(`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		credits INTEGER NOT NULL DEFAULT 10
	)`).Error)
	require.NoError(t, seed.Exec(`CREATE TABLE video_generations (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		generate_id TEXT UNIQUE,
		video_url TEXT,
		status TEXT DEFAULT 'pending',
		refunded INTEGER DEFAULT 0,
		created_at INTEGER,
		updated_at INTEGER
	)`).Error)
	require.NoError(t, seed.Exec(`INSERT INTO users (id) VALUES ('u-1')`).Error)
	sqlDB, err := seed.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	db, err := Open(sqliteConfig(path))
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("credit_transactions"))
	assert.True(t, db.Migrator().HasColumn(&models.VideoGeneration{}, "cover_local_path"))
	assert.True(t, db.Migrator().HasColumn(&models.VideoGeneration{}, "error_message"))

	var credits int
	require.NoError(t, db.Raw("SELECT credits FROM users WHERE id = ?", "u-1").Scan(&credits).Error)
	assert.Equal(t, 10, credits)

	require.NoError(t, db.Exec(`INSERT INTO video_generations (id, generate_id) VALUES ('a', 'g-1')`).Error)
	assert.Error(t, db.Exec(`INSERT INTO video_generations (id, generate_id) VALUES ('b', 'g-1')`).Error, "unique constraint kept")

	// a second start is a no-op
	require.NoError(t, AutoMigrate(db))
}
