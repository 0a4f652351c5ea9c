package chat

// Handler processes one inbound event type on an authenticated session.
type Handler interface {
	Type() string
	Handle(*Context, *Frame, *Session) error
}

type Context struct {
	S *Server
}
