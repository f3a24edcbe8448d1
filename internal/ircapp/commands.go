package ircapp

import (
	"regexp"
	"strings"
)

// serverName is the source used in numeric replies; this module never
// federates with other servers so one fixed name suffices.
const serverName = "chatlinkd"

// Numeric reply codes per spec.md §6 (RFC 1459 subset actually exercised).
const (
	rplWelcome      = "001"
	rplNamReply     = "353"
	rplEndOfNames   = "366"
	errNoSuchChan   = "403"
	errNoMOTD       = "422"
	errErroneusNick = "432"
	errNicknameUse  = "433"
)

var (
	nickPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	chanPattern = regexp.MustCompile(`^#[A-Za-z][A-Za-z0-9_-]*$`)
)

// maxNamesLineLen bounds a single NAMES reply line to 510 bytes before
// the trailing \r\n, per spec.md §6.
const maxNamesLineLen = 510

// handleLine parses and dispatches one complete IRC line for s.
func handleLine(s *Session, line string) {
	verb, rest := splitVerb(line)
	switch strings.ToUpper(verb) {
	case "NICK":
		handleNick(s, rest)
	case "USER":
		handleUser(s, rest)
	case "JOIN":
		handleJoin(s, rest)
	case "PART":
		handlePart(s, rest)
	case "PRIVMSG":
		handlePrivmsg(s, rest)
	case "NAMES":
		handleNames(s, rest)
	case "PING":
		s.send("PONG " + serverName + " :" + rest + "\r\n")
	case "PONG":
		// No keepalive timer to satisfy in this layer; acknowledged and
		// ignored, per spec.md §1 (the IRC app fixes the TCP contract,
		// not a hardened protocol implementation).
	case "QUIT":
		s.conn.Close()
	}
}

func splitVerb(line string) (verb, rest string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimLeft(line[i+1:], " ")
}

func handleNick(s *Session, rest string) {
	nick := strings.Fields(rest)
	if len(nick) == 0 || !nickPattern.MatchString(nick[0]) {
		s.reply(errErroneusNick, ":Erroneous nickname")
		return
	}
	if err := s.reg.Register(nick[0], s); err != nil {
		s.reply(errNicknameUse, nick[0]+" :Nickname is already in use")
		return
	}
	maybeWelcome(s)
}

func handleUser(s *Session, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	s.user = fields[0]
	if s.state == statePreUser {
		maybeWelcome(s)
	}
}

// maybeWelcome advances registration once both NICK and USER have been
// seen, and emits the numeric 001/422 welcome sequence exactly once.
func maybeWelcome(s *Session) {
	switch {
	case s.state == statePreNick && s.nick != "":
		s.state = statePreUser
		fallthrough
	case s.state == statePreUser && s.user != "":
		if s.user == "" {
			return
		}
		s.state = stateRegistered
		s.reply(rplWelcome, ":Welcome to chatlink, "+s.nick)
		s.reply(errNoMOTD, ":MOTD File is missing")
	}
}

func handleJoin(s *Session, rest string) {
	ch := strings.Fields(rest)
	if len(ch) == 0 || !chanPattern.MatchString(ch[0]) {
		return
	}
	name := lowerASCII(ch[0])
	others := s.reg.Members(name)
	s.reg.Join(name, s)
	broadcast(others, s, ":"+s.displayNick()+" JOIN :"+name+"\r\n")
	sendNames(s, name)
}

func handlePart(s *Session, rest string) {
	ch := strings.Fields(rest)
	if len(ch) == 0 {
		return
	}
	name := lowerASCII(ch[0])
	others := s.reg.Members(name)
	s.reg.Part(name, s)
	broadcast(others, s, ":"+s.displayNick()+" PART "+name+"\r\n")
}

// broadcast sends msg to every member other than except, per
// original_source/irc.py's join/part/quit notification behaviour
// (SPEC_FULL.md §6).
func broadcast(members []*Session, except *Session, msg string) {
	for _, m := range members {
		if m != except {
			m.send(msg)
		}
	}
}

func handlePrivmsg(s *Session, rest string) {
	target, payload, ok := strings.Cut(rest, " ")
	if !ok || !strings.HasPrefix(payload, ":") {
		return
	}
	msg := ":" + s.displayNick() + " PRIVMSG " + target + " " + payload + "\r\n"

	if strings.HasPrefix(target, "#") {
		for _, member := range s.reg.Members(target) {
			if member != s {
				member.send(msg)
			}
		}
		return
	}
	if dst, ok := s.reg.Lookup(target); ok {
		dst.send(msg)
	}
}

func handleNames(s *Session, rest string) {
	ch := strings.Fields(rest)
	if len(ch) == 0 {
		return
	}
	sendNames(s, ch[0])
}

// sendNames emits 353/366 for channel name, splitting the member list
// across as many 353 lines as needed to stay within maxNamesLineLen
// bytes before the \r\n, per spec.md §6.
func sendNames(s *Session, name string) {
	if !s.reg.ChannelExists(name) {
		s.reply(errNoSuchChan, name+" :No such channel")
		return
	}

	members := s.reg.Members(name)
	prefix := ":" + serverName + " " + rplNamReply + " " + s.displayNick() + " = " + name + " :"
	var line strings.Builder
	line.WriteString(prefix)
	first := true
	for _, m := range members {
		add := m.nick
		if !first {
			add = " " + add
		}
		if line.Len()+len(add) > maxNamesLineLen {
			s.send(line.String() + "\r\n")
			line.Reset()
			line.WriteString(prefix)
			add = m.nick
			first = true
		}
		line.WriteString(add)
		first = false
	}
	if line.Len() > len(prefix) || len(members) == 0 {
		s.send(line.String() + "\r\n")
	}
	s.reply(rplEndOfNames, name+" :End of /NAMES list")
}
