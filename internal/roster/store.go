package roster

import (
	"sync"
	"time"

	"catchup/internal/models"
)

// Store holds the guild roster. The bot replaces it wholesale when it
// connects; web handlers only read copies.
type Store struct {
	mu       sync.RWMutex
	members  []models.Member
	loadedAt time.Time
}

func NewStore() *Store {
	return &Store{}
}

// Replace swaps in a freshly enumerated member list.
func (s *Store) Replace(members []models.Member) {
	cloned := make([]models.Member, len(members))
	copy(cloned, members)

	s.mu.Lock()
	s.members = cloned
	s.loadedAt = time.Now()
	s.mu.Unlock()
}

// Members returns the roster in enumeration order. Never nil.
func (s *Store) Members() []models.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Member, len(s.members))
	copy(out, s.members)
	return out
}

// Lookup finds a member by id.
func (s *Store) Lookup(id string) (models.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.ID == id {
			return m, true
		}
	}
	return models.Member{}, false
}

// Loaded reports whether the roster has been populated and when.
func (s *Store) Loaded() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt, !s.loadedAt.IsZero()
}
