package chat

import (
	"fmt"

	"github.com/golang/glog"
)

type Handler interface {
	Event() string
	Handle(*Context, *Frame, *Session) error
}

type Context struct {
	S *Server
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Event()] = h }

func (d *Dispatcher) Dispatch(ctx *Context, f *Frame, s *Session) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		return fmt.Errorf("no handler for event=%q", f.Event)
	}
	return h.Handle(ctx, f, s)
}

func (d *Dispatcher) GetHandler(event string) Handler {
	h, ok := d.handlers[event]
	if !ok {
		glog.Infof("no handler for event=%q", event)
		return nil
	}
	return h
}
