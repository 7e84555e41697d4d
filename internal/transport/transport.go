package transport

import (
	"context"

	"github.com/sharetube/syncroom/internal/domain"
)

// Subscriber receives everything a Transport reads from the relay.
// OnClose is called at most once per established link, and never for a
// link torn down by Disconnect.
type Subscriber interface {
	OnEnvelope(env domain.Envelope)
	OnClose(err error)
}

// Transport is a single link to a relay. Connect may be called again after
// the link was closed.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, env domain.Envelope) error
	Subscribe(sub Subscriber)
	Disconnect() error
	IsAlive() bool
}
