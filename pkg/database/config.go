package database

import (
	"errors"
	"strings"
	"time"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: every store shares one SQLite file; reads fan out over
// the pool while writes are funnelled through a single writer goroutine
type Config struct {
	DatabasePath    string        `yaml:"path"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	WriteQueueSize  int           `yaml:"write_queue_size"`
}

// DefaultConfig returns production-ready database configuration
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/chatrelay.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteTimeout:    30 * time.Second,
		RetryDelay:      5 * time.Second,
		WriteQueueSize:  100,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("write queue size must be greater than 0")
	}
	return nil
}

// Pragmas applied to every new database handle.
var Pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// DSN returns the go-sqlite3 connection string for path.
func DSN(path string) string {
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// IsMemory reports whether path names an in-memory database.
func IsMemory(path string) bool {
	return strings.HasPrefix(path, ":memory:")
}

// MemoryDSN returns the connection string of a named in-memory database
// whose pooled connections all share one cache. The database lives until
// its last connection closes.
func MemoryDSN(name string) string {
	return "file:" + name + "?mode=memory&cache=shared&_busy_timeout=5000&_foreign_keys=on"
}
