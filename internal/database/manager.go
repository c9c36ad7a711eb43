package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	dbconfig "chatrelay/pkg/database"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Manager is the SQLite-backed MessageStore, Directory, PresenceStore and
// DeviceTokenStore. Reads go straight to the pool; writes are serialized
// through one goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the connection pragmas and starts
// the writer goroutine. It does not run migrations.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if config == nil {
		config = dbconfig.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	memory := dbconfig.IsMemory(config.DatabasePath)
	dsn := dbconfig.DSN(config.DatabasePath)
	if memory {
		// A bare :memory: gives every pooled connection its own empty database.
		dsn = dbconfig.MemoryDSN("chatrelay-" + uuid.NewString())
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	if memory {
		// The shared in-memory database is dropped with its last connection.
		db.SetMaxIdleConns(config.MaxConnections)
	} else {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "database").Logger(),
		writeChannel: make(chan writeOperation, config.WriteQueueSize),
		shutdown:     make(chan struct{}),
	}

	// FUNCTIONAL DISCOVERY: SQLite allows one writer at a time; a single goroutine
	// owning every write removes SQLITE_BUSY churn under concurrent routing
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop runs queued writes one at a time, retrying a failed write once
// after RetryDelay unless the caller has given up.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)
		case <-m.shutdown:
			m.logger.Debug().Msg("write loop shutting down")
			return
		}
	}
}

func (m *Manager) runWrite(op writeOperation) error {
	err := op.operation(m.db)
	if err == nil || op.ctx.Err() != nil || isPermanent(err) {
		return err
	}

	m.logger.Warn().Err(err).Dur("retry_in", m.config.RetryDelay).Msg("database write failed, retrying")
	timer := time.NewTimer(m.config.RetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-op.ctx.Done():
		return err
	case <-m.shutdown:
		return err
	}

	if err = op.operation(m.db); err != nil {
		m.logger.Error().Err(err).Msg("database write failed after retry")
	}
	return err
}

// executeWrite queues operation on the writer goroutine and waits for it.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrShuttingDown
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrShuttingDown
	}
}

// withTx runs fn inside a transaction on the writer goroutine.
func (m *Manager) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB returns the underlying handle for migrations and schema validation.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Stats reports pool and write queue gauges.
func (m *Manager) Stats() map[string]int {
	s := m.db.Stats()
	return map[string]int{
		"open_connections": s.OpenConnections,
		"in_use":           s.InUse,
		"pending_writes":   len(m.writeChannel),
	}
}

// Close stops the writer and closes the database. It is safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range dbconfig.Pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

// isPermanent reports failures a retry cannot fix.
func isPermanent(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
