package interfaces

import "errors"

// ErrInvalidCursor is returned by MessageStore history reads for a cursor
// that was not produced by a previous page.
var ErrInvalidCursor = errors.New("invalid history cursor")
