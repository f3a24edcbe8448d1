package ircapp

import (
	"log/slog"

	"github.com/malbeclabs/chatlink/internal/tcpstack"
)

// Server hosts the chat registry and wires new TCP connections into
// chat sessions. It is grounded on the teacher's manager pattern: one
// owned registry, constructed with functional options, driven entirely
// by callbacks from a lower layer (client/doublezerod/internal/manager).
type Server struct {
	log *slog.Logger
	reg *Registry
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the server's logger; the default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer constructs a chat Server with an empty registry.
func NewServer(opts ...Option) *Server {
	s := &Server{
		log: slog.Default(),
		reg: NewRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnAccept is the callback to register with tcpstack.Server's
// RegisterAccept, per spec.md §4.4 (`register_accept`). It creates a
// chat Session for the new connection and wires the TCP byte-stream
// contract (`register_receiver`) into line-based IRC parsing.
func (s *Server) OnAccept(conn *tcpstack.Connection) {
	s.log.Debug("ircapp: accepted connection", "remote", conn.RemoteAddr(), "port", conn.RemotePort())

	sess := newSession(conn, s.reg)
	conn.RegisterReceiver(func(_ *tcpstack.Connection, payload []byte) {
		if len(payload) == 0 {
			sess.onClose()
			return
		}
		sess.onData(payload)
	})
}
