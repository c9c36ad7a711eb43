package websocket

import (
	"errors"
	"fmt"

	"chatrelay/pkg/types"
)

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full, closing slow consumer")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrUnboundIdentity  = errors.New("connection requires a verified identity")
)

// Handler-related errors
var (
	ErrMissingCredential = fmt.Errorf("%w: missing bearer credential", types.ErrAuth)
	ErrUnknownFrameType  = fmt.Errorf("%w: unknown frame type", types.ErrInvalidRequest)
	ErrMalformedFrame    = fmt.Errorf("%w: malformed frame", types.ErrInvalidRequest)
)
