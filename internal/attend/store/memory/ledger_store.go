package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ipbeep/attendance/internal/attend/types"
)

// LedgerStore keeps ledger snapshots in memory, keyed by course+session.
// FailNext lets tests simulate a persistence failure on the next Save.
type LedgerStore struct {
	mu       sync.Mutex
	docs     map[string][]types.Participant
	saves    int
	failNext bool
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{docs: make(map[string][]types.Participant)}
}

func (s *LedgerStore) Save(_ context.Context, courseID, sessionID string, participants []types.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext {
		s.failNext = false
		return errors.New("simulated persistence failure")
	}

	cp := make([]types.Participant, len(participants))
	copy(cp, participants)
	s.docs[courseID+"_"+sessionID] = cp
	s.saves++
	return nil
}

func (s *LedgerStore) Load(_ context.Context, courseID, sessionID string) ([]types.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[courseID+"_"+sessionID]
	if !ok {
		return nil, nil
	}
	cp := make([]types.Participant, len(doc))
	copy(cp, doc)
	return cp, nil
}

// Saves reports how many successful Save calls have happened.  Test-only.
func (s *LedgerStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// FailNextSave makes the next Save return an error.  Test-only.
func (s *LedgerStore) FailNextSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}
