package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ipbeep/attendance/internal/attend/store"
	"github.com/ipbeep/attendance/internal/attend/types"
)

// Ledger is the shared per-session attendance record.  Reads are allowed
// from anywhere under a short lock hold; writes go through a LedgerWriter,
// of which at most one is valid at any instant.  The write ownership token
// replaces the marker-file hand-off protocol of earlier deployments: a
// loop acquires the writer at launch and releases it after its final
// flush, and the coordinator transfers ownership between loops.
type Ledger struct {
	mu      sync.Mutex
	config  types.SessionConfig
	records map[string]*types.Participant // by student id
	byMAC   map[string][]string           // MAC -> student ids (non-unique MACs allowed)
	owner   *LedgerWriter
	store   store.LedgerStore
}

// NewLedger builds a fresh ledger from the registration set.  Every
// registered participant starts unobserved: zero minutes, no face, not
// attended.  The session threshold is copied into each record.
func NewLedger(cfg types.SessionConfig, regs []types.Registration, st store.LedgerStore) *Ledger {
	l := &Ledger{
		config:  cfg,
		records: make(map[string]*types.Participant, len(regs)),
		byMAC:   make(map[string][]string),
		store:   st,
	}
	for _, r := range regs {
		mac := strings.ToUpper(r.MAC)
		l.records[r.StudentID] = &types.Participant{
			StudentID: r.StudentID,
			Name:      r.Name,
			MAC:       mac,
			IP:        r.IP,
			Threshold: cfg.ThresholdMinutes,
		}
		l.byMAC[mac] = append(l.byMAC[mac], r.StudentID)
	}
	return l
}

func (l *Ledger) Config() types.SessionConfig {
	return l.config
}

// Acquire hands out the single write token.  It fails with ErrLedgerOwned
// while another writer is live; the previous owner must release (its exit
// discipline) or the coordinator must Steal after a hand-off timeout.
func (l *Ledger) Acquire(owner string) (*LedgerWriter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != nil {
		return nil, ErrLedgerOwned
	}
	w := &LedgerWriter{ledger: l, name: owner}
	l.owner = w
	return w, nil
}

// Steal takes ownership unconditionally, invalidating the current writer.
// Used by the coordinator when the bounded wait for an ownership release
// expires: the old loop's writes are rejected from this point on, which
// bounds the damage of a loop that failed to exit in time.
func (l *Ledger) Steal(owner string) *LedgerWriter {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := &LedgerWriter{ledger: l, name: owner}
	l.owner = w
	return w
}

// Owner reports the name of the current write owner, empty when released.
func (l *Ledger) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == nil {
		return ""
	}
	return l.owner.name
}

// Snapshot returns a copy of all records, ordered by student id.
func (l *Ledger) Snapshot() []types.Participant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() []types.Participant {
	out := make([]types.Participant, 0, len(l.records))
	for _, p := range l.records {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// ConnectedAmong returns the ids of participants whose MAC appears in the
// given probe sample, ordered by student id.
func (l *Ledger) ConnectedAmong(macs map[string]struct{}) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string
	for mac, students := range l.byMAC {
		if _, ok := macs[mac]; ok {
			ids = append(ids, students...)
		}
	}
	sort.Strings(ids)
	return ids
}

// Document flattens the ledger into the archival upload format.
func (l *Ledger) Document(now time.Time) types.SessionDocument {
	l.mu.Lock()
	defer l.mu.Unlock()

	students := make(map[string]types.Participant, len(l.records))
	for id, p := range l.records {
		students[id] = *p
	}
	return types.SessionDocument{
		CourseID:  l.config.CourseID,
		SessionID: l.config.SessionID,
		Timestamp: now,
		Students:  students,
	}
}

// LedgerWriter is the single-writer handle to a Ledger.  All mutations
// check validity first: a writer that has been released or stolen from
// performs no writes and reports ErrNotOwner where it can.
type LedgerWriter struct {
	ledger *Ledger
	name   string
}

func (w *LedgerWriter) valid() bool {
	return w.ledger.owner == w
}

// Credit grants the fixed per-cycle minutes to every participant whose
// MAC appears in the probe sample, setting first/last seen stamps.
// Returns how many records changed.  Accrual is additive only; records
// sharing a MAC are credited independently.
func (w *LedgerWriter) Credit(macs map[string]struct{}, minutes float64, now time.Time) int {
	l := w.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if !w.valid() {
		return 0
	}

	changed := 0
	for _, p := range l.records {
		if _, ok := macs[p.MAC]; !ok {
			continue
		}
		if p.Start == nil {
			t := now
			p.Start = &t
		}
		t := now
		p.LastSeen = &t
		p.TotalMinutes += minutes
		recompute(p)
		changed++
	}
	return changed
}

// ConfirmFace marks a participant's visual identity as confirmed and
// re-derives attended.  Returns false when the id is unknown to this
// session or the writer is no longer the owner.
func (w *LedgerWriter) ConfirmFace(studentID string, now time.Time) bool {
	l := w.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if !w.valid() {
		return false
	}
	p, ok := l.records[studentID]
	if !ok {
		return false
	}
	p.Face = true
	recompute(p)
	return true
}

// Flush rewrites the whole ledger document in the backing store.  A
// failure leaves in-memory state untouched; callers log and retry on
// their next scheduled flush.
func (w *LedgerWriter) Flush(ctx context.Context) error {
	l := w.ledger
	l.mu.Lock()
	if !w.valid() {
		l.mu.Unlock()
		return ErrNotOwner
	}
	snap := l.snapshotLocked()
	cfg := l.config
	l.mu.Unlock()

	return l.store.Save(ctx, cfg.CourseID, cfg.SessionID, snap)
}

// Release gives up write ownership.  Idempotent; a stolen-from writer's
// release does not disturb the new owner.
func (w *LedgerWriter) Release() {
	l := w.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == w {
		l.owner = nil
	}
}

// attended requires both signals: enough accrued minutes AND a confirmed
// face.  Recomputed after every mutation so the invariant holds at all
// times, not just at session end.
func recompute(p *types.Participant) {
	p.Attended = p.TotalMinutes >= p.Threshold && p.Face
}
