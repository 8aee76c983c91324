package natsx

import "context"

// Message is the unified inbound message shape.
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg Message) error

// Middleware wraps a handler (logging, metrics, retry...).
type Middleware func(Handler) Handler

// Chain applies middlewares right to left.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
