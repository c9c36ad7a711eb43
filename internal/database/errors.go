package database

import "errors"

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
	ErrShuttingDown  = errors.New("database manager is shutting down")
	ErrNilEnvelope   = errors.New("message envelope is nil")
)
