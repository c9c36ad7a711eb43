package registry

import "errors"

var (
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrUnboundConnection = errors.New("connection must carry a verified identity before registration")
)
