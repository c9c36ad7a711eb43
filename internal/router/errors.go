package router

import (
	"errors"
	"fmt"

	"chatrelay/pkg/types"
)

// Router-specific errors. Those a client can act on wrap a types sentinel so
// they map to a wire code.
var (
	ErrRateLimitExceeded = fmt.Errorf("%w: too many messages per window", types.ErrRateLimited)
	ErrUnboundSender     = fmt.Errorf("%w: sender identity missing", types.ErrAuth)
	ErrUnknownAudience   = fmt.Errorf("%w: unknown audience kind", types.ErrInvalidRequest)
	ErrLaneAbandoned     = errors.New("delivery lane wait abandoned")
)
