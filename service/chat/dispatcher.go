package chat

import "medishare/logger"

// Dispatcher routes inbound frames to the handler registered for their
// event type. Unknown types are skipped, not errored: the read loop logs
// and moves on.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) GetHandler(typ string) Handler {
	h, ok := d.handlers[typ]
	if !ok {
		logger.Infof("no handler for type=%s", typ)
		return nil
	}
	return h
}
