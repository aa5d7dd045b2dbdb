package store

import (
	"context"
	"errors"

	"github.com/ipbeep/attendance/internal/attend/types"
)

// ErrDuplicateRegistration is returned by Enroll when the student id or the
// device MAC is already enrolled.  The portal surfaces this as "already
// registered"; re-registration before the next session is an explicit
// overwrite via Enroll with Replace set.
var ErrDuplicateRegistration = errors.New("student or device already registered")

// RegistrationStore holds the enrollment set produced by the registration
// portal.  The coordinator consumes List once at session start to build a
// fresh ledger.
type RegistrationStore interface {
	// List returns all enrollments, ordered by student id.
	List(ctx context.Context) ([]types.Registration, error)

	// Enroll records one registration.  Duplicate student ids or MACs are
	// rejected with ErrDuplicateRegistration unless replace is true, in
	// which case the existing record for that student id is overwritten.
	Enroll(ctx context.Context, reg types.Registration, replace bool) error
}
