package service

import (
	"context"
	"log"
	"time"

	"github.com/ipbeep/attendance/internal/attend/probe"
)

// PresenceTracker converts periodic wireless association samples into
// accrued minutes.  It runs as a background goroutine, owns the ledger
// writer for its lifetime, and is stopped cooperatively: the stop request
// is observed once per cycle, after which the loop performs a final flush
// and releases ownership before exiting.
type PresenceTracker struct {
	probe  probe.Probe
	writer *LedgerWriter
	period time.Duration
	credit float64 // minutes granted per observed cycle
	logger *log.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// PresenceConfig holds the parameters for NewPresenceTracker.
type PresenceConfig struct {
	// Period is the accrual cycle length.  Defaults to 30s.
	Period time.Duration

	// CreditMinutes is granted to each observed participant per completed
	// cycle.  Defaults to Period expressed in minutes (30s -> 0.5).  The
	// credit is per observed cycle, not wall-clock-integrated: a
	// participant must be associated at the sampling instant to earn it.
	CreditMinutes float64
}

func NewPresenceTracker(p probe.Probe, w *LedgerWriter, cfg PresenceConfig, logger *log.Logger) *PresenceTracker {
	period := cfg.Period
	if period <= 0 {
		period = 30 * time.Second
	}
	credit := cfg.CreditMinutes
	if credit <= 0 {
		credit = period.Minutes()
	}

	return &PresenceTracker{
		probe:  p,
		writer: w,
		period: period,
		credit: credit,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins the accrual loop.  It runs an immediate cycle on startup,
// then repeats on the configured period until ctx is cancelled or Stop is
// called.
func (t *PresenceTracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	go t.loop(ctx)

	t.logger.Printf("presence tracker started (period=%s, credit=%.2fmin/cycle)", t.period, t.credit)
}

// Stop signals the loop to exit and waits for it to finish, including its
// final flush and ownership release.
func (t *PresenceTracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
}

// Done is closed once the loop has flushed and released ledger ownership.
// The coordinator waits on it with a bounded timeout during hand-off.
func (t *PresenceTracker) Done() <-chan struct{} {
	return t.done
}

func (t *PresenceTracker) loop(ctx context.Context) {
	defer close(t.done)
	defer t.writer.Release()

	// First sample right away so a short session still accrues.
	t.cycle(ctx)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.finalFlush()
			return
		case <-ticker.C:
			t.cycle(ctx)
		}
	}
}

// cycle runs one accrual pass.  A probe failure aborts only this cycle;
// the ledger is persisted only when at least one record changed.
func (t *PresenceTracker) cycle(ctx context.Context) {
	macs, err := t.probe.Associated(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Printf("probe error, skipping cycle: %v", err)
		}
		return
	}

	now := time.Now().UTC()
	changed := t.writer.Credit(macs, t.credit, now)
	if changed == 0 {
		return
	}

	if err := t.writer.Flush(ctx); err != nil {
		t.logger.Printf("ledger flush failed (state kept, retrying next cycle): %v", err)
		return
	}
	t.logger.Printf("cycle complete: %d associated, %d records credited", len(macs), changed)
}

// finalFlush persists whatever accrued before the stop request was
// observed.  Runs on a fresh context because the loop context is already
// cancelled.
func (t *PresenceTracker) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.writer.Flush(ctx); err != nil {
		t.logger.Printf("final ledger flush failed: %v", err)
	}
}
