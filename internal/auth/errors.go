package auth

import (
	"errors"
	"fmt"

	"chatrelay/pkg/types"
)

var (
	ErrEmptySecret   = errors.New("signing secret cannot be empty")
	ErrInvalidToken  = fmt.Errorf("%w: invalid token", types.ErrAuth)
	ErrMissingUserID = fmt.Errorf("%w: token carries no user id", types.ErrAuth)
	ErrUnknownUser   = fmt.Errorf("%w: token subject is not a known user", types.ErrAuth)
)
