package state

import (
	"testing"

	"pyrite/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestStore_Users(t *testing.T) {
	s := NewStore("public", "alice", domain.Credentials{Password: "pw"})

	s.AddUser(domain.User{ID: "u1", Username: "bob"})
	s.AddUser(domain.User{ID: "u2", Username: "carol"})
	s.AddUser(domain.User{ID: "u1", Username: "bobby"})

	assert.Equal(t, []domain.User{{ID: "u1", Username: "bobby"}, {ID: "u2", Username: "carol"}}, s.Users())

	assert.True(t, s.UpdateUser(domain.User{ID: "u2", Username: "caroline"}))
	assert.False(t, s.UpdateUser(domain.User{ID: "u3", Username: "dave"}))

	assert.True(t, s.RemoveUser("u1"))
	assert.False(t, s.RemoveUser("u1"))
	assert.Equal(t, []domain.User{{ID: "u2", Username: "caroline"}}, s.Users())
}

func TestStore_UsersCopyIsDetached(t *testing.T) {
	s := NewStore("public", "alice", domain.Credentials{})
	s.AddUser(domain.User{ID: "u1", Username: "bob"})

	users := s.Users()
	users[0].Username = "mallory"

	assert.Equal(t, "bob", s.Users()[0].Username)
}

func TestStore_Chat(t *testing.T) {
	s := NewStore("public", "alice", domain.Credentials{})
	s.AppendChat(domain.ChatMessage{Username: "bob", Value: "hi"})
	assert.Len(t, s.Chat(), 1)

	s.ClearChat()
	assert.Empty(t, s.Chat())
}

func TestStore_ResetKeepsLogin(t *testing.T) {
	s := NewStore("public", "alice", domain.Credentials{Password: "pw"})
	s.SetConnectionID("c1")
	s.SetConnected(true)
	s.SetRecording(true)
	s.SetPermissions(domain.Permissions{Present: true, Op: true})
	s.AddUser(domain.User{ID: "u1", Username: "bob"})

	s.Reset()

	snap := s.Snapshot()
	assert.False(t, snap.Connected)
	assert.False(t, snap.Recording)
	assert.Empty(t, snap.Users)
	assert.Equal(t, domain.Permissions{}, snap.Permissions)
	assert.Equal(t, domain.ConnectionID(""), snap.ConnectionID)
	assert.Equal(t, "public", snap.Group)

	name, creds := s.Login()
	assert.Equal(t, "alice", name)
	assert.Equal(t, "pw", creds.Password)
}
