package ircapp

// peerConn is the outbound half of spec.md §4.4's application contract
// (`send`, `close`) that a Session needs. *tcpstack.Connection satisfies
// it structurally; tests use a lightweight fake instead of standing up a
// real TCP handshake.
type peerConn interface {
	Send(payload []byte)
	Close()
}

// registrationState tags a Session's progress through the pre-chat
// handshake, grounded on the tagged SessionStatus idiom used for BGP
// peer state in the teacher's client daemon.
type registrationState int

const (
	statePreNick registrationState = iota
	statePreUser
	stateRegistered
)

func (s registrationState) String() string {
	return [...]string{"pre-nick", "pre-user", "registered"}[s]
}

// Session is one connected chat client: the TCP byte-stream connection
// it rides on, its accumulated line-parsing residue (spec.md §6: messages
// are accumulated in a per-connection residue buffer), and its identity
// in the Registry.
type Session struct {
	conn peerConn
	reg  *Registry

	nick  string
	user  string
	state registrationState

	channels map[string]bool
	residue  []byte
}

func newSession(conn peerConn, reg *Registry) *Session {
	return &Session{
		conn:     conn,
		reg:      reg,
		channels: map[string]bool{},
	}
}

// send writes one already-terminated IRC line to the peer.
func (s *Session) send(line string) {
	s.conn.Send([]byte(line))
}

func (s *Session) reply(numeric, text string) {
	s.send(":" + serverName + " " + numeric + " " + s.displayNick() + " " + text + "\r\n")
}

func (s *Session) displayNick() string {
	if s.nick == "" {
		return "*"
	}
	return s.nick
}

// onData feeds newly-arrived bytes into the residue buffer and dispatches
// every complete \r\n-terminated line it can extract, per spec.md §6.
func (s *Session) onData(payload []byte) {
	s.residue = append(s.residue, payload...)
	for {
		i := indexCRLF(s.residue)
		if i < 0 {
			break
		}
		line := string(s.residue[:i])
		s.residue = s.residue[i+2:]
		if line != "" {
			handleLine(s, line)
		}
	}
}

// onClose runs when the peer's FIN is delivered as EOF (an empty
// payload), releasing this session's chat state and notifying every
// channel-mate, per original_source/irc.py's tratar_saida (SPEC_FULL.md
// §6). A local Close (as on QUIT) does not call it; a connection torn
// down by the ACK of our FIN without a peer FIN leaves the session
// registered.
func (s *Session) onClose() {
	left := s.reg.Unregister(s)
	msg := ":" + s.displayNick() + " QUIT :Connection closed\r\n"
	for _, ch := range left {
		broadcast(s.reg.Members(ch), s, msg)
	}
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}
