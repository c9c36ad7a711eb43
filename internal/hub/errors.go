package hub

import "errors"

// Hub-specific errors
var (
	ErrHubAlreadyRunning       = errors.New("hub is already running")
	ErrHubNotRunning           = errors.New("hub is not running")
	ErrNilConnection           = errors.New("connection cannot be nil")
	ErrEmptyTopic              = errors.New("topic cannot be empty")
	ErrPublishChannelFull      = errors.New("publish channel is full")
	ErrSubscriptionChannelFull = errors.New("subscription channel is full")
)
