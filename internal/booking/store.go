package booking

import "sync"

// Store holds the active wizard per patient. Wizards are in-memory only; a
// gateway restart drops in-flight bookings, which simply restart at step one.
type Store struct {
	mu sync.RWMutex
	m  map[string]*Wizard
}

// NewStore creates an empty wizard store.
func NewStore() *Store {
	return &Store{m: make(map[string]*Wizard)}
}

// Get returns the patient's active wizard, if any.
func (s *Store) Get(patientID string) (*Wizard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wz, ok := s.m[patientID]
	return wz, ok
}

// Start replaces any previous wizard with a fresh one. An in-flight payment
// session on the old wizard is cancelled first so its watch cannot outlive it.
func (s *Store) Start(patientID string) *Wizard {
	s.mu.Lock()
	old := s.m[patientID]
	wz := NewWizard()
	s.m[patientID] = wz
	s.mu.Unlock()

	if old != nil {
		_ = old.Cancel()
	}
	return wz
}

// Remove drops the patient's wizard, cancelling it when still active.
func (s *Store) Remove(patientID string) {
	s.mu.Lock()
	wz := s.m[patientID]
	delete(s.m, patientID)
	s.mu.Unlock()

	if wz != nil {
		_ = wz.Cancel()
	}
}
