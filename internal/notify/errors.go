package notify

import "errors"

var (
	ErrGateAlreadyRunning = errors.New("notification gate is already running")
)
