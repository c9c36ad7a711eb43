package interfaces

import (
	"time"

	"chatrelay/pkg/types"
)

// Connection is a live, identity-bound client connection.
// ARCHITECTURAL DISCOVERY: the identity is bound before the handle is ever
// registered and never changes afterwards, so readers need no locking.
type Connection interface {
	// ID is unique per connection; one user may hold several.
	ID() string

	// Identity returns the verified user bound at admission.
	Identity() types.UserIdentity

	// ConnectedAt is the admission time.
	ConnectedAt() time.Time

	// WriteJSON queues v for the connection's single writer. It must be safe
	// for concurrent use and must not block on a slow peer.
	WriteJSON(v interface{}) error

	// Close releases the transport. Safe to call more than once.
	Close() error
}

// ConnectionLookup is the read side of the connection registry.
type ConnectionLookup interface {
	IsOnline(userID string) bool
	ConnectionsFor(userID string) []Connection
}
