package natsx

import "context"

type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// Handler processes one message. On JetStream routes a nil error acks and
// anything else naks.
type Handler func(ctx context.Context, msg Message) error

type Middleware func(Handler) Handler

// Chain wraps h so that mws[0] runs first.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
