package ircapp

import (
	"fmt"
)

// ErrNicknameInUse is returned by Registry.Register when the requested
// nickname already has an owner, per spec.md §6's numeric 433.
var ErrNicknameInUse = fmt.Errorf("nickname in use")

// Registry is the process-wide chat state described in spec.md §9: a
// mapping of lowercased nickname to session and lowercased channel name
// to the set of member sessions. The core's single-threaded cooperative
// scheduling model (spec.md §5) means every call into Registry happens
// on the same executor as the TCP callbacks that drive it, so no mutex
// guards it, exactly as spec.md §9 describes for the reference
// single-threaded case.
type Registry struct {
	nicks    map[string]*Session
	channels map[string]map[*Session]bool
}

// NewRegistry constructs an empty chat registry.
func NewRegistry() *Registry {
	return &Registry{
		nicks:    map[string]*Session{},
		channels: map[string]map[*Session]bool{},
	}
}

// Register claims nick for s, rejecting a collision with an existing
// owner other than s itself (a session renaming to its own current
// nick is a no-op success).
func (r *Registry) Register(nick string, s *Session) error {
	key := lowerASCII(nick)
	if owner, ok := r.nicks[key]; ok && owner != s {
		return ErrNicknameInUse
	}
	if s.nick != "" {
		delete(r.nicks, lowerASCII(s.nick))
	}
	r.nicks[key] = s
	s.nick = nick
	return nil
}

// Lookup returns the session currently holding nick, if any.
func (r *Registry) Lookup(nick string) (*Session, bool) {
	s, ok := r.nicks[lowerASCII(nick)]
	return s, ok
}

// Unregister removes s from the nickname table and every channel it was
// a member of, returning the channels it was removed from.
func (r *Registry) Unregister(s *Session) []string {
	if s.nick != "" {
		delete(r.nicks, lowerASCII(s.nick))
	}
	var left []string
	for name := range s.channels {
		r.part(name, s)
		left = append(left, name)
	}
	return left
}

// Join adds s to channel name, creating the channel if it didn't
// already have members.
func (r *Registry) Join(name string, s *Session) {
	key := lowerASCII(name)
	members, ok := r.channels[key]
	if !ok {
		members = map[*Session]bool{}
		r.channels[key] = members
	}
	members[s] = true
	s.channels[key] = true
}

// Part removes s from channel name. A session that is not a member is
// a no-op. Parting the last member deletes the channel.
func (r *Registry) Part(name string, s *Session) {
	r.part(lowerASCII(name), s)
}

func (r *Registry) part(key string, s *Session) {
	if members, ok := r.channels[key]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(r.channels, key)
		}
	}
	delete(s.channels, key)
}

// ChannelExists reports whether name currently has any members.
func (r *Registry) ChannelExists(name string) bool {
	_, ok := r.channels[lowerASCII(name)]
	return ok
}

// Members returns the current membership of channel name in no
// particular order.
func (r *Registry) Members(name string) []*Session {
	members := r.channels[lowerASCII(name)]
	out := make([]*Session, 0, len(members))
	for s := range members {
		out = append(out, s)
	}
	return out
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
