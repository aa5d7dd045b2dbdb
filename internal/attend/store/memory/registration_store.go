package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ipbeep/attendance/internal/attend/store"
	"github.com/ipbeep/attendance/internal/attend/types"
)

// RegistrationStore is an in-memory enrollment set for tests and dev
// environments.
type RegistrationStore struct {
	mu   sync.RWMutex
	regs map[string]types.Registration // by student id
}

func NewRegistrationStore(regs ...types.Registration) *RegistrationStore {
	s := &RegistrationStore{regs: make(map[string]types.Registration, len(regs))}
	for _, r := range regs {
		r.MAC = strings.ToUpper(r.MAC)
		s.regs[r.StudentID] = r
	}
	return s
}

func (s *RegistrationStore) List(_ context.Context) ([]types.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Registration, 0, len(s.regs))
	for _, r := range s.regs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *RegistrationStore) Enroll(_ context.Context, reg types.Registration, replace bool) error {
	reg.MAC = strings.ToUpper(strings.TrimSpace(reg.MAC))

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.regs {
		if id == reg.StudentID || strings.EqualFold(existing.MAC, reg.MAC) {
			if !replace || id != reg.StudentID {
				return store.ErrDuplicateRegistration
			}
		}
	}
	s.regs[reg.StudentID] = reg
	return nil
}
