package chat

import (
	"context"
	"encoding/json"
)

// Handler answers a request-style event. The returned data becomes the
// success envelope; an error becomes the failure envelope.
type Handler interface {
	Event() string
	Handle(ctx context.Context, c *Conn, payload json.RawMessage) (any, error)
}

// Signal handles a fire-and-forget event. It has nothing to report.
type Signal interface {
	Event() string
	Notify(ctx context.Context, c *Conn, payload json.RawMessage)
}
