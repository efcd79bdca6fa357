package commands

import (
	"errors"
	"sync"
	"time"

	"github.com/mellow-sync/mellow/internal/database/types"
)

// SignUpTTL is how long an interaction token stays usable for a sign-up.
const SignUpTTL = 10 * time.Minute

// ErrSignUpNotFound is returned when no pending sign-up exists for a member.
var ErrSignUpNotFound = errors.New("sign-up not found")

// SignUp is a sync request from a member who was not registered yet.
type SignUp struct {
	UserID           uint64
	GuildID          uint64
	InteractionToken string
	CreatedAt        time.Time
}

// SignUpStore holds pending sign-ups. Expired entries are dropped on access.
type SignUpStore struct {
	mu      sync.RWMutex
	entries map[types.MemberKey]SignUp
	ttl     time.Duration
	now     func() time.Time
}

// NewSignUpStore creates an empty store.
func NewSignUpStore() *SignUpStore {
	return &SignUpStore{
		entries: make(map[types.MemberKey]SignUp),
		ttl:     SignUpTTL,
		now:     time.Now,
	}
}

// Add records a sign-up, replacing an older one for the same member.
func (s *SignUpStore) Add(userID, guildID uint64, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reap()
	s.entries[types.MemberKey{GuildID: guildID, UserID: userID}] = SignUp{
		UserID:           userID,
		GuildID:          guildID,
		InteractionToken: token,
		CreatedAt:        s.now(),
	}
}

// Get returns the live sign-up of a member.
func (s *SignUpStore) Get(guildID, userID uint64) (SignUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	signUp, ok := s.entries[types.MemberKey{GuildID: guildID, UserID: userID}]
	if !ok || s.expired(signUp) {
		return SignUp{}, ErrSignUpNotFound
	}

	return signUp, nil
}

// Remove forgets the sign-up of a member.
func (s *SignUpStore) Remove(guildID, userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, types.MemberKey{GuildID: guildID, UserID: userID})
}

// Len returns the number of stored sign-ups, expired ones included.
func (s *SignUpStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

func (s *SignUpStore) expired(signUp SignUp) bool {
	return s.now().Sub(signUp.CreatedAt) >= s.ttl
}

// reap drops expired entries. Callers hold the write lock.
func (s *SignUpStore) reap() {
	for key, signUp := range s.entries {
		if s.expired(signUp) {
			delete(s.entries, key)
		}
	}
}
