package store

import (
	"context"

	"github.com/ipbeep/attendance/internal/attend/types"
)

// LedgerStore is the ledger's backing store: one document per (course,
// session) pair, rewritten in full on every flush.  Implementations must
// provide atomic replace semantics; there is no append log and no
// partial-write recovery beyond that.
type LedgerStore interface {
	Save(ctx context.Context, courseID, sessionID string, participants []types.Participant) error
	Load(ctx context.Context, courseID, sessionID string) ([]types.Participant, error)
}
