package sessionstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamrelay/ipxcore/pkg/dispatcher"
)

func TestMemoryTouchAndActive(t *testing.T) {
	m := NewMemory()
	sess := dispatcher.Session{User: "alice", SessionToken: "tok1", Provider: "main"}
	require.NoError(t, m.Touch(sess))

	active := m.Active(time.Minute)
	require.Len(t, active, 1)
	require.Equal(t, "alice", active[0].User)
}

func TestMemoryEvictsStaleSessions(t *testing.T) {
	m := NewMemory()
	sess := dispatcher.Session{User: "bob", SessionToken: "tok2", Provider: "main"}
	require.NoError(t, m.Touch(sess))

	removed := m.Evict(-time.Second)
	require.Equal(t, 1, removed)
	require.Empty(t, m.Active(time.Hour))
}

func TestMemoryTouchOverwritesSameKey(t *testing.T) {
	m := NewMemory()
	sess := dispatcher.Session{User: "carol", SessionToken: "tok3", Provider: "main", SessionURL: "http://a/1"}
	require.NoError(t, m.Touch(sess))
	sess.SessionURL = "http://a/2"
	require.NoError(t, m.Touch(sess))

	active := m.Active(time.Minute)
	require.Len(t, active, 1)
	require.Equal(t, "http://a/2", active[0].SessionURL)
}
