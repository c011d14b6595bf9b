package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/atende-io/atende/pkg/protocol"
)

// User is a registered identity. Agent grants the agent privilege:
// replying as an agent, seeing every case, closing any case.
type User struct {
	ID    int64
	Name  string
	Email string
	Agent bool
}

// Ref returns the user's wire representation.
func (u *User) Ref() protocol.UserRef {
	return protocol.UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Store owns the user directory and the session table (token → user).
// It is the identity gate: every case-mutating operation resolves its
// caller here before touching any state.
type Store struct {
	mu      sync.RWMutex
	users   map[int64]*User
	byToken map[string]int64
	byUser  map[int64]string // user → current token, one live session per user
	nextID  int64
	logger  *slog.Logger
}

// NewStore creates an empty user/session store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		users:   make(map[int64]*User),
		byToken: make(map[string]int64),
		byUser:  make(map[int64]string),
		logger:  logger,
	}
}

// AddUser registers a user and assigns the next sequential ID.
func (s *Store) AddUser(name, email string, agent bool) *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	u := &User{ID: s.nextID, Name: name, Email: email, Agent: agent}
	s.users[u.ID] = u
	s.logger.Info("user registered", "user", u.ID, "email", email, "agent", agent)
	return u
}

// GetUser returns the user with the given ID.
func (s *Store) GetUser(id int64) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// FindByEmail returns the user registered under the given email.
func (s *Store) FindByEmail(email string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true
		}
	}
	return nil, false
}

// LookupUser resolves a user ID to its wire reference. It satisfies the
// resolver interfaces of the ticket and hub packages.
func (s *Store) LookupUser(id int64) (protocol.UserRef, bool) {
	u, ok := s.GetUser(id)
	if !ok {
		return protocol.UserRef{}, false
	}
	return u.Ref(), true
}

// Issue creates a session token for a user. Any previous token for the
// same user is invalidated; the token itself is an opaque UUID.
func (s *Store) Issue(userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return "", protocol.Rejectf(protocol.CodeNotFound, "user %d not found", userID)
	}
	if old, ok := s.byUser[userID]; ok {
		delete(s.byToken, old)
		s.logger.Info("previous session invalidated", "user", userID)
	}

	token := uuid.NewString()
	s.byToken[token] = userID
	s.byUser[userID] = token
	s.logger.Info("session issued", "user", userID)
	return token, nil
}

// Resolve maps a bearer token to its verified user. A missing or revoked
// token yields a not-authenticated rejection. Read-only, no side effects.
func (s *Store) Resolve(token string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, protocol.Reject(protocol.CodeNotAuthenticated, "session token not found, log in again")
	}
	u, ok := s.users[id]
	if !ok {
		return nil, protocol.Reject(protocol.CodeNotAuthenticated, "session user no longer exists")
	}
	return u, nil
}

// Revoke drops a session token. Unknown tokens are ignored.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byToken[token]; ok {
		delete(s.byToken, token)
		if s.byUser[id] == token {
			delete(s.byUser, id)
		}
		s.logger.Info("session revoked", "user", id)
	}
}
