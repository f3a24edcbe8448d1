package ircapp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIRCApp_Registry_RegisterRejectsCollision(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := &Session{channels: map[string]bool{}}
	b := &Session{channels: map[string]bool{}}

	require.NoError(t, reg.Register("alice", a))
	err := reg.Register("Alice", b)
	require.ErrorIs(t, err, ErrNicknameInUse)

	got, ok := reg.Lookup("ALICE")
	require.True(t, ok)
	require.Same(t, a, got)
}

func TestIRCApp_Registry_RegisterSameSessionRenames(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := &Session{channels: map[string]bool{}}
	require.NoError(t, reg.Register("alice", a))
	require.NoError(t, reg.Register("alice2", a))

	_, ok := reg.Lookup("alice")
	require.False(t, ok, "old nick freed on rename")
	got, ok := reg.Lookup("alice2")
	require.True(t, ok)
	require.Same(t, a, got)
}

func TestIRCApp_Registry_JoinPartTracksMembership(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := &Session{channels: map[string]bool{}}
	b := &Session{channels: map[string]bool{}}

	reg.Join("#general", a)
	reg.Join("#GENERAL", b)
	require.True(t, reg.ChannelExists("#general"))
	require.ElementsMatch(t, []*Session{a, b}, reg.Members("#general"))

	reg.Part("#general", a)
	require.ElementsMatch(t, []*Session{b}, reg.Members("#general"))

	reg.Part("#general", b)
	require.False(t, reg.ChannelExists("#general"), "channel disappears once empty")
}

func TestIRCApp_Registry_UnregisterLeavesAllChannels(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := &Session{channels: map[string]bool{}}
	require.NoError(t, reg.Register("alice", a))
	reg.Join("#a", a)
	reg.Join("#b", a)

	left := reg.Unregister(a)
	require.ElementsMatch(t, []string{"#a", "#b"}, left)
	_, ok := reg.Lookup("alice")
	require.False(t, ok)
	require.False(t, reg.ChannelExists("#a"))
	require.False(t, reg.ChannelExists("#b"))
}
