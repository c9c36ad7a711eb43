package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", DSN(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func migratedDB(t *testing.T) *sql.DB {
	t.Helper()
	db := openTestDB(t)
	_, err := NewMigrationManager(db, Migrations()).ApplyMigrations(context.Background())
	require.NoError(t, err)
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)

	assert.Equal(t, "./data/chatrelay.db", config.DatabasePath)
	assert.Equal(t, 10, config.MaxConnections)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 5*time.Second, config.RetryDelay)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }},
		{"zero write queue", func(c *Config) { c.WriteQueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestMemoryDSN_PooledConnectionsShareTables(t *testing.T) {
	assert.True(t, IsMemory(":memory:"))
	assert.False(t, IsMemory(filepath.Join(t.TempDir(), "test.db")))

	db, err := sql.Open("sqlite3", MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxIdleConns(4)

	ctx := context.Background()
	_, err = db.ExecContext(ctx, "CREATE TABLE items (id INTEGER)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO items (id) VALUES (1)")
	require.NoError(t, err)

	var held []*sql.Rows
	defer func() {
		for _, rows := range held {
			_ = rows.Close()
		}
	}()
	for i := 0; i < 3; i++ {
		rows, err := db.QueryContext(ctx, "SELECT id FROM items")
		require.NoError(t, err)
		require.True(t, rows.Next())
		held = append(held, rows)
	}
}

func TestMigrationManager_AppliesEmbeddedSchemaOnce(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db, Migrations())
	ctx := context.Background()

	applied, err := mgr.ApplyMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, applied)

	applied, err = mgr.ApplyMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	assert.NoError(t, mgr.ValidateSchema(ctx))
}

func TestMigrationManager_OrdersByVersion(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"002_add_column.sql": {Data: []byte(`ALTER TABLE things ADD COLUMN label TEXT;`)},
		"001_things.sql":     {Data: []byte(`CREATE TABLE things (id TEXT PRIMARY KEY);`)},
		"README.md":          {Data: []byte(`not a migration`)},
	}

	applied, err := NewMigrationManager(db, source).ApplyMigrations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, applied)

	_, err = db.Exec(`INSERT INTO things (id, label) VALUES ('a', 'b')`)
	assert.NoError(t, err)
}

func TestMigrationManager_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"001_ok.sql":     {Data: []byte(`CREATE TABLE ok (id TEXT);`)},
		"002_broken.sql": {Data: []byte(`CREATE TABLE broken (`)},
	}

	applied, err := NewMigrationManager(db, source).ApplyMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002")
	assert.Equal(t, []string{"001"}, applied)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrationManager_ValidateSchemaFailsOnEmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	err := NewMigrationManager(db, Migrations()).ValidateSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users")
}

func TestSchemaValidator_AcceptsMigratedDatabase(t *testing.T) {
	db := migratedDB(t)
	assert.NoError(t, NewSchemaValidator(db).Validate(context.Background()))

	var probes int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users WHERE id LIKE 'schema-probe%'`).Scan(&probes))
	assert.Zero(t, probes, "constraint probe must roll back")
}

func TestSchemaValidator_ReportsMissingTable(t *testing.T) {
	db := migratedDB(t)
	_, err := db.Exec(`DROP TABLE device_tokens`)
	require.NoError(t, err)

	err = NewSchemaValidator(db).ValidateTablesExist(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device_tokens")
}

func TestSchemaValidator_ReportsWrongColumnType(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`CREATE TABLE users (id TEXT PRIMARY KEY, display_name TEXT, avatar_url TEXT,
		is_online TEXT, status TEXT, last_seen INTEGER)`)
	require.NoError(t, err)

	err = NewSchemaValidator(db).validateColumns(context.Background(), "users", expectedColumns["users"])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is_online")
}

func TestSchemaValidator_ReportsMissingIndex(t *testing.T) {
	db := migratedDB(t)
	_, err := db.Exec(`DROP INDEX idx_messages_channel_time`)
	require.NoError(t, err)

	err = NewSchemaValidator(db).ValidateIndexes(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idx_messages_channel_time")
}
