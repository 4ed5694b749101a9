// Package state holds the session-wide state the UI observes. Every field
// group has its own mutators; readers get copies.
package state

import (
	"sync"

	"pyrite/internal/core/domain"
)

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	ConnectionID domain.ConnectionID  `json:"connection_id"`
	Group        string               `json:"group"`
	Username     string               `json:"username"`
	Connected    bool                 `json:"connected"`
	Recording    bool                 `json:"recording"`
	Permissions  domain.Permissions   `json:"permissions"`
	Users        []domain.User        `json:"users"`
	Chat         []domain.ChatMessage `json:"chat"`
}

type Store struct {
	mu sync.RWMutex

	connectionID domain.ConnectionID
	group        string
	username     string
	credentials  domain.Credentials
	connected    bool
	recording    bool
	permissions  domain.Permissions
	users        []domain.User
	chat         []domain.ChatMessage
}

func NewStore(group, username string, creds domain.Credentials) *Store {
	return &Store{
		group:       group,
		username:    username,
		credentials: creds,
	}
}

// Identity

func (s *Store) SetConnectionID(id domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionID = id
}

func (s *Store) Group() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.group
}

func (s *Store) SetGroup(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group = group
}

func (s *Store) Login() (username string, creds domain.Credentials) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username, s.credentials
}

// Connection

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

func (s *Store) Permissions() domain.Permissions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permissions
}

func (s *Store) SetPermissions(p domain.Permissions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions = p
}

func (s *Store) Recording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording
}

func (s *Store) SetRecording(recording bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = recording
}

// Users

// AddUser appends u, replacing an entry with the same id.
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].ID == u.ID {
			s.users[i] = u
			return
		}
	}
	s.users = append(s.users, u)
}

// UpdateUser renames a known user. It reports whether the user was found.
func (s *Store) UpdateUser(u domain.User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].ID == u.ID {
			s.users[i] = u
			return true
		}
	}
	return false
}

// RemoveUser reports whether the user was present.
func (s *Store) RemoveUser(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].ID == id {
			s.users = append(s.users[:i], s.users[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) Users() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, len(s.users))
	copy(out, s.users)
	return out
}

func (s *Store) ClearUsers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = nil
}

// Chat

func (s *Store) AppendChat(m domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = append(s.chat, m)
}

func (s *Store) ClearChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = nil
}

func (s *Store) Chat() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

// Reset drops everything tied to a connection. Group and login survive.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionID = ""
	s.connected = false
	s.recording = false
	s.permissions = domain.Permissions{}
	s.users = nil
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ConnectionID: s.connectionID,
		Group:        s.group,
		Username:     s.username,
		Connected:    s.connected,
		Recording:    s.recording,
		Permissions:  s.permissions,
		Users:        make([]domain.User, len(s.users)),
		Chat:         make([]domain.ChatMessage, len(s.chat)),
	}
	copy(snap.Users, s.users)
	copy(snap.Chat, s.chat)
	return snap
}
