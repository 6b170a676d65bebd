package session

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSessionDefaults(t *testing.T) {
	s := New("alice")
	assert.Equal(t, "alice", s.User())
	assert.Equal(t, Standalone, s.Role())
	assert.NotEqual(t, uuid.Nil, s.SyncID())
	assert.Equal(t, DefaultSettings(), s.Settings())
	assert.True(t, s.Privileges().Table("alice", nil, PrivDelete))
	assert.False(t, s.TracksHistory())
}

func TestSessionHistoryRoles(t *testing.T) {
	assert.True(t, New("u", WithRole(Master)).TracksHistory())
	assert.True(t, New("u", WithRole(Replica)).TracksHistory())
	assert.False(t, New("u", WithRole(Replica), WithWriteSubscription()).TracksHistory())
}

func TestUpdateSettingsIsObservedByLaterReads(t *testing.T) {
	s := New("u")
	before := s.Settings()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateSettings(func(st *Settings) { st.CursorPoolSize++ })
		}()
	}
	wg.Wait()
	assert.Equal(t, before.CursorPoolSize+10, s.Settings().CursorPoolSize)
	assert.Equal(t, DefaultSettings().CursorPoolSize, before.CursorPoolSize)
}
