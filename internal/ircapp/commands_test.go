package ircapp

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	lines  []string
	closed bool
}

func (f *fakePeer) Send(payload []byte) { f.lines = append(f.lines, string(payload)) }
func (f *fakePeer) Close()              { f.closed = true }

func newTestSession(t *testing.T, reg *Registry) (*Session, *fakePeer) {
	t.Helper()
	p := &fakePeer{}
	return newSession(p, reg), p
}

func TestIRCApp_Session_NickThenUserSendsWelcomeOnce(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	s, p := newTestSession(t, reg)

	s.onData([]byte("NICK alice\r\n"))
	require.Empty(t, p.lines, "welcome withheld until USER too")

	s.onData([]byte("USER alice 0 * :Alice\r\n"))
	require.Len(t, p.lines, 2)
	require.Contains(t, p.lines[0], "001 alice :Welcome")
	require.Contains(t, p.lines[1], "422 alice :MOTD File is missing")
	require.Equal(t, stateRegistered, s.state)
}

func TestIRCApp_Session_InvalidNickIsRejected(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	s, p := newTestSession(t, reg)
	s.onData([]byte("NICK 1bad\r\n"))

	require.Len(t, p.lines, 1)
	require.Contains(t, p.lines[0], "432 * :Erroneous nickname")
}

func TestIRCApp_Session_NickCollisionSends433(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a, _ := newTestSession(t, reg)
	a.onData([]byte("NICK alice\r\n"))

	b, pb := newTestSession(t, reg)
	b.onData([]byte("NICK alice\r\n"))

	require.Len(t, pb.lines, 1)
	require.Contains(t, pb.lines[0], "433 * alice :Nickname is already in use")
}

func TestIRCApp_Session_PrivmsgToChannelFansOutExceptSender(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	alice, pa := newTestSession(t, reg)
	alice.onData([]byte("NICK alice\r\nUSER a 0 * :A\r\n"))
	bob, pb := newTestSession(t, reg)
	bob.onData([]byte("NICK bob\r\nUSER b 0 * :B\r\n"))

	pa.lines, pb.lines = nil, nil
	alice.onData([]byte("JOIN #general\r\n"))
	bob.onData([]byte("JOIN #general\r\n"))

	pa.lines, pb.lines = nil, nil
	alice.onData([]byte("PRIVMSG #general :hello\r\n"))

	require.Empty(t, pa.lines, "sender does not receive its own PRIVMSG echo")
	require.Len(t, pb.lines, 1)
	require.Equal(t, ":alice PRIVMSG #general :hello\r\n", pb.lines[0])
}

func TestIRCApp_Session_PrivmsgDirectToNick(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	alice, _ := newTestSession(t, reg)
	alice.onData([]byte("NICK alice\r\nUSER a 0 * :A\r\n"))
	bob, pb := newTestSession(t, reg)
	bob.onData([]byte("NICK bob\r\nUSER b 0 * :B\r\n"))
	pb.lines = nil

	alice.onData([]byte("PRIVMSG bob :hi there\r\n"))
	require.Equal(t, []string{":alice PRIVMSG bob :hi there\r\n"}, pb.lines)
}

func TestIRCApp_Session_NamesOnUnknownChannelReplies403(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	s, p := newTestSession(t, reg)
	s.onData([]byte("NICK alice\r\nUSER a 0 * :A\r\n"))
	p.lines = nil

	s.onData([]byte("NAMES #ghost\r\n"))
	require.Len(t, p.lines, 1)
	require.Contains(t, p.lines[0], "403 alice #ghost :No such channel")
}

func TestIRCApp_Session_NamesSplitsAt510Bytes(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	s, p := newTestSession(t, reg)
	s.onData([]byte("NICK watcher\r\nUSER w 0 * :W\r\n"))

	for i := 0; i < 100; i++ {
		member, _ := newTestSession(t, reg)
		member.onData([]byte("NICK n" + strconv.Itoa(i) + "\r\nUSER u 0 * :U\r\n"))
		reg.Join("#big", member)
	}
	reg.Join("#big", s)

	p.lines = nil
	s.onData([]byte("NAMES #big\r\n"))

	for _, line := range p.lines[:len(p.lines)-1] {
		require.LessOrEqual(t, len(strings.TrimSuffix(line, "\r\n")), maxNamesLineLen)
	}
	require.Contains(t, p.lines[len(p.lines)-1], "366 watcher #big :End of /NAMES list")
}

func TestIRCApp_Session_PingRepliesPong(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	s, p := newTestSession(t, reg)
	s.onData([]byte("PING abc123\r\n"))

	require.Equal(t, []string{"PONG " + serverName + " :abc123\r\n"}, p.lines)
}

func TestIRCApp_Session_QuitClosesConnection(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	s, p := newTestSession(t, reg)
	s.onData([]byte("QUIT\r\n"))
	require.True(t, p.closed)
}

func TestIRCApp_Session_ResidueSpansMultipleReads(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	s, p := newTestSession(t, reg)
	s.onData([]byte("NICK al"))
	s.onData([]byte("ice\r\nUSER a 0 * :A"))
	require.Empty(t, p.lines, "incomplete USER line not yet dispatched")
	s.onData([]byte("\r\n"))
	require.Len(t, p.lines, 2)
}

func TestIRCApp_Session_JoinBroadcastsToExistingMembers(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	alice, pa := newTestSession(t, reg)
	alice.onData([]byte("NICK alice\r\nUSER a 0 * :A\r\nJOIN #general\r\n"))

	bob, pb := newTestSession(t, reg)
	bob.onData([]byte("NICK bob\r\nUSER b 0 * :B\r\n"))
	pa.lines = nil

	bob.onData([]byte("JOIN #general\r\n"))

	require.Contains(t, pa.lines, ":bob JOIN :#general\r\n", "existing member is notified of the newcomer")
	for _, line := range pb.lines {
		require.NotContains(t, line, "JOIN", "the joiner gets NAMES, not its own JOIN broadcast")
	}
}

func TestIRCApp_Session_PartBroadcastsToRemainingMembers(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	alice, pa := newTestSession(t, reg)
	alice.onData([]byte("NICK alice\r\nUSER a 0 * :A\r\nJOIN #general\r\n"))
	bob, pb := newTestSession(t, reg)
	bob.onData([]byte("NICK bob\r\nUSER b 0 * :B\r\nJOIN #general\r\n"))
	pa.lines, pb.lines = nil, nil

	bob.onData([]byte("PART #general\r\n"))

	require.Contains(t, pa.lines, ":bob PART #general\r\n")
	require.Empty(t, pb.lines, "the parting session gets no PART echo of its own")
	require.NotContains(t, reg.Members("#general"), bob)
}

func TestIRCApp_Session_DisconnectBroadcastsQuit(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	alice, pa := newTestSession(t, reg)
	alice.onData([]byte("NICK alice\r\nUSER a 0 * :A\r\nJOIN #general\r\n"))
	bob, _ := newTestSession(t, reg)
	bob.onData([]byte("NICK bob\r\nUSER b 0 * :B\r\nJOIN #general\r\n"))
	pa.lines = nil

	bob.onClose()

	require.Contains(t, pa.lines, ":bob QUIT :Connection closed\r\n")
	require.NotContains(t, reg.Members("#general"), bob)
	_, ok := reg.Lookup("bob")
	require.False(t, ok)
}

func TestIRCApp_Session_EOFUnregisters(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	s, _ := newTestSession(t, reg)
	s.onData([]byte("NICK alice\r\nUSER a 0 * :A\r\n"))
	s.onClose()

	_, ok := reg.Lookup("alice")
	require.False(t, ok)
}
