package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// Verifier turns a bearer credential into a verified identity.
// Failures wrap types.ErrAuth.
type Verifier interface {
	Verify(ctx context.Context, credential string) (types.UserIdentity, error)
}

// Notifier receives offline recipients from the router. Implementations must
// not block the caller.
type Notifier interface {
	MaybeNotify(env *types.OutboundEnvelope, recipient types.UserIdentity)
}

// PushSender delivers one notification to one device token.
type PushSender interface {
	Send(ctx context.Context, token string, n types.Notification) error
}

// Publisher fans a frame out to every subscriber of a topic.
type Publisher interface {
	Publish(topic string, frame interface{}) error
}
