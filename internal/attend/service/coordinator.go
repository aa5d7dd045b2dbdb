package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ipbeep/attendance/internal/attend/camera"
	"github.com/ipbeep/attendance/internal/attend/match"
	"github.com/ipbeep/attendance/internal/attend/probe"
	"github.com/ipbeep/attendance/internal/attend/store"
	"github.com/ipbeep/attendance/internal/attend/types"
)

// State is the coordinator's session phase.
type State string

const (
	StateIdle             State = "IDLE"
	StatePresenceTracking State = "PRESENCE_TRACKING"
	StateFaceTracking     State = "FACE_TRACKING"
	StateCompleted        State = "COMPLETED"
)

// Writer ownership names, visible in Ledger.Owner for diagnostics.
const (
	ownerPresence = "presence-tracker"
	ownerFace     = "face-tracker"
)

// ConfigSource fetches the session descriptor from the remote
// configuration collaborator.
type ConfigSource interface {
	FetchSessionConfig(ctx context.Context, key string) (*types.SessionConfig, error)
}

// ArchiveSink receives the flattened ledger snapshot at session end.
// Failures are logged and recorded, never fatal.
type ArchiveSink interface {
	UploadSessionLog(ctx context.Context, doc types.SessionDocument) error
}

// Settings carries the tunables the coordinator passes to its loops.
type Settings struct {
	SamplePeriod   time.Duration
	CreditMinutes  float64
	FrameSkip      int
	Downscale      int
	Cooldown       time.Duration
	SaveInterval   time.Duration
	HandoffTimeout time.Duration
	SessionKey     string
}

func (s *Settings) applyDefaults() {
	if s.HandoffTimeout <= 0 {
		s.HandoffTimeout = 3 * time.Second
	}
	if s.SessionKey == "" {
		s.SessionKey = "details"
	}
}

// Dependencies wires the coordinator's collaborators.
type Dependencies struct {
	Logger        *log.Logger
	Registrations store.RegistrationStore
	LedgerStore   store.LedgerStore
	Events        store.EventStore
	Probe         probe.Probe
	NewCamera     func() (camera.Source, error)
	Matcher       match.Matcher
	Remote        ConfigSource // may be nil: config must then be pre-cached, never refreshed
	Archive       ArchiveSink  // may be nil: archival disabled
	Portal        *Auxiliary   // may be nil: portal management disabled
	Settings      Settings
}

// Coordinator owns the session state machine and the lifecycle of the two
// tracking loops.  It enforces the single-writer hand-off: a loop is
// launched only after the previous owner has released the ledger writer,
// or after the bounded wait for that release has expired (in which case
// ownership is taken over and the late loop's writes are rejected).
//
// Transitions are serialized by transMu, which may be held across a
// bounded wait.  Reads of state and collaborator pointers go through mu
// with short holds, so status queries never block on loop shutdown.
type Coordinator struct {
	deps Dependencies

	transMu sync.Mutex // serializes state transitions

	mu             sync.Mutex // guards the fields below
	state          State
	cfg            *types.SessionConfig
	ledger         *Ledger
	presence       *PresenceTracker
	face           *FaceTracker
	lastArchiveErr error
}

func NewCoordinator(deps Dependencies) *Coordinator {
	deps.Settings.applyDefaults()
	return &Coordinator{deps: deps, state: StateIdle}
}

// FetchConfig refreshes the cached session descriptor from the remote
// collaborator.  Callable in any state; does not affect the state
// machine.
func (c *Coordinator) FetchConfig(ctx context.Context) (*types.SessionConfig, error) {
	if c.deps.Remote == nil {
		return nil, ErrConfigUnavailable
	}

	cfg, err := c.deps.Remote.FetchSessionConfig(ctx, c.deps.Settings.SessionKey)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()

	c.deps.Logger.Printf("session config loaded: %s session %s (threshold %.0f min)",
		cfg.CourseID, cfg.SessionID, cfg.ThresholdMinutes)
	return cfg, nil
}

// StartSession begins a new session: valid from IDLE or COMPLETED.  It
// stops a running portal first, builds a fresh ledger from the current
// registration set, and launches the presence loop as sole ledger owner.
func (c *Coordinator) StartSession(ctx context.Context) error {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	if s := c.currentState(); s != StateIdle && s != StateCompleted {
		return fmt.Errorf("%w: start_session from %s", ErrInvalidTransition, s)
	}

	cfg, err := c.sessionConfig(ctx)
	if err != nil {
		return err
	}

	// Stop-before-start: the portal and a tracked session are never
	// alive together.
	if c.deps.Portal != nil && c.deps.Portal.Running() {
		if err := c.deps.Portal.Stop(); err != nil {
			c.deps.Logger.Printf("portal stop failed: %v", err)
		} else {
			c.deps.Logger.Printf("portal auto-stopped by session start")
		}
	}

	regs, err := c.deps.Registrations.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: load registrations: %v", ErrConfigUnavailable, err)
	}
	if len(regs) == 0 {
		return fmt.Errorf("%w: registration set is empty", ErrConfigUnavailable)
	}

	ledger := NewLedger(*cfg, regs, c.deps.LedgerStore)
	writer, err := ledger.Acquire(ownerPresence)
	if err != nil {
		// Fresh ledger, cannot be owned.
		return err
	}

	presence := NewPresenceTracker(c.deps.Probe, writer, PresenceConfig{
		Period:        c.deps.Settings.SamplePeriod,
		CreditMinutes: c.deps.Settings.CreditMinutes,
	}, c.deps.Logger)
	presence.Start(context.Background())

	c.mu.Lock()
	c.ledger = ledger
	c.presence = presence
	c.face = nil
	c.lastArchiveErr = nil
	c.state = StatePresenceTracking
	c.mu.Unlock()

	c.deps.Logger.Printf("session started: %s session %s, %d registered",
		cfg.CourseID, cfg.SessionID, len(regs))
	return nil
}

// BeginFacePhase transfers ledger ownership from the presence loop to the
// face tracking loop: valid only from PRESENCE_TRACKING.  The camera is
// opened before the presence loop is stopped, so an acquisition failure
// rejects the transition without disturbing accrual.
func (c *Coordinator) BeginFacePhase(ctx context.Context) error {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	if s := c.currentState(); s != StatePresenceTracking {
		return fmt.Errorf("%w: begin_face_phase from %s", ErrInvalidTransition, s)
	}

	src, err := c.deps.NewCamera()
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	c.mu.Lock()
	presence, ledger := c.presence, c.ledger
	c.mu.Unlock()

	writer := c.takeOwnership(presence.Done(), presence, ownerFace, ledger)

	face := NewFaceTracker(src, c.deps.Matcher, writer, c.deps.Events, FaceConfig{
		FrameSkip:    c.deps.Settings.FrameSkip,
		Downscale:    c.deps.Settings.Downscale,
		Cooldown:     c.deps.Settings.Cooldown,
		SaveInterval: c.deps.Settings.SaveInterval,
	}, c.deps.Logger)
	face.Start(context.Background())

	c.mu.Lock()
	c.presence = nil
	c.face = face
	c.state = StateFaceTracking
	c.mu.Unlock()

	c.deps.Logger.Printf("face tracking phase started")
	return nil
}

// EndSession stops the active loop, archives the final ledger, and moves
// to COMPLETED.  Valid from FACE_TRACKING, or from PRESENCE_TRACKING as a
// degraded path.  Archival failure is recorded and logged; the session
// completes regardless.
func (c *Coordinator) EndSession(ctx context.Context) error {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	s := c.currentState()
	if s != StateFaceTracking && s != StatePresenceTracking {
		return fmt.Errorf("%w: end_session from %s", ErrInvalidTransition, s)
	}

	c.mu.Lock()
	presence, face, ledger := c.presence, c.face, c.ledger
	c.mu.Unlock()

	switch {
	case face != nil:
		c.stopBounded(face.Done(), func() { face.Stop() }, "face tracker")
	case presence != nil:
		c.stopBounded(presence.Done(), func() { presence.Stop() }, "presence tracker")
	}

	var archiveErr error
	if c.deps.Archive == nil {
		c.deps.Logger.Printf("archival disabled, session document not uploaded")
	} else {
		doc := ledger.Document(time.Now().UTC())
		if archiveErr = c.deps.Archive.UploadSessionLog(ctx, doc); archiveErr != nil {
			c.deps.Logger.Printf("archival upload failed: %v", archiveErr)
		} else {
			c.deps.Logger.Printf("session archived as %s_%s", doc.CourseID, doc.SessionID)
		}
	}

	c.mu.Lock()
	c.presence = nil
	c.face = nil
	c.lastArchiveErr = archiveErr
	c.state = StateCompleted
	c.mu.Unlock()

	c.deps.Logger.Printf("session completed")
	return nil
}

// Shutdown stops whatever is running.  Used on process exit; performs no
// archival.
func (c *Coordinator) Shutdown() {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	presence, face := c.presence, c.face
	c.presence, c.face = nil, nil
	c.mu.Unlock()

	if face != nil {
		face.Stop()
	}
	if presence != nil {
		presence.Stop()
	}
	if c.deps.Portal != nil {
		_ = c.deps.Portal.Stop()
	}
}

// takeOwnership stops the current owner and waits, bounded, for it to
// release the writer.  On a clean release it acquires normally; on
// timeout it proceeds anyway and steals the token, so the late loop's
// remaining writes are rejected rather than racing the new owner.
func (c *Coordinator) takeOwnership(done <-chan struct{}, owner *PresenceTracker, newOwner string, ledger *Ledger) *LedgerWriter {
	if owner.cancel != nil {
		owner.cancel()
	}

	select {
	case <-done:
		w, err := ledger.Acquire(newOwner)
		if err == nil {
			return w
		}
		// Released loop but token still held: fall through to steal.
		c.deps.Logger.Printf("ownership not released cleanly: %v", err)
	case <-time.After(c.deps.Settings.HandoffTimeout):
		c.deps.Logger.Printf("hand-off timeout after %s waiting for %s; proceeding",
			c.deps.Settings.HandoffTimeout, ledger.Owner())
	}

	return ledger.Steal(newOwner)
}

// stopBounded requests a loop stop and waits up to the hand-off timeout,
// then degrades to best-effort with a warning.
func (c *Coordinator) stopBounded(done <-chan struct{}, stop func(), name string) {
	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	select {
	case <-done:
		<-stopped
	case <-time.After(c.deps.Settings.HandoffTimeout):
		c.deps.Logger.Printf("timeout waiting for %s to stop; proceeding", name)
	}
}

func (c *Coordinator) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status reports the current phase and cached descriptor.
func (c *Coordinator) Status() types.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := types.SessionStatus{State: string(c.state)}
	if c.cfg != nil {
		cfg := *c.cfg
		st.Config = &cfg
	}
	return st
}

// ArchiveError reports the most recent archival failure, nil when the
// last session archived cleanly.
func (c *Coordinator) ArchiveError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastArchiveErr
}

// Connected intersects a fresh probe sample with the ledger.  Any failure
// (no session, probe error) yields the zero payload rather than an error.
func (c *Coordinator) Connected(ctx context.Context) types.ConnectedStatus {
	c.mu.Lock()
	ledger := c.ledger
	c.mu.Unlock()

	empty := types.ConnectedStatus{Students: []string{}}
	if ledger == nil || c.deps.Probe == nil {
		return empty
	}

	macs, err := c.deps.Probe.Associated(ctx)
	if err != nil {
		c.deps.Logger.Printf("connected query probe error: %v", err)
		return empty
	}

	ids := ledger.ConnectedAmong(macs)
	if ids == nil {
		ids = []string{}
	}
	return types.ConnectedStatus{Connected: len(ids), Students: ids}
}

// Recognized returns the face tracker's live status, draining pending
// events.  Outside the face phase it returns the zero payload.
func (c *Coordinator) Recognized() types.RecognizedStatus {
	c.mu.Lock()
	face := c.face
	c.mu.Unlock()

	if face == nil {
		return types.RecognizedStatus{Recognized: []string{}, Updates: []types.RecognitionEvent{}}
	}
	return face.Status()
}

// PreviewJPEG returns the latest annotated frame for the live feed.
func (c *Coordinator) PreviewJPEG() ([]byte, bool) {
	c.mu.Lock()
	face := c.face
	c.mu.Unlock()

	if face == nil {
		return nil, false
	}
	return face.PreviewJPEG()
}

// StartPortal launches the registration portal.  Rejected while a session
// is being tracked: enrollment closes when tracking starts.
func (c *Coordinator) StartPortal() error {
	if c.deps.Portal == nil {
		return ErrPortalDisabled
	}
	if s := c.currentState(); s == StatePresenceTracking || s == StateFaceTracking {
		return fmt.Errorf("%w: start_portal from %s", ErrInvalidTransition, s)
	}
	return c.deps.Portal.Start()
}

// StopPortal stops the registration portal.
func (c *Coordinator) StopPortal() error {
	if c.deps.Portal == nil {
		return ErrPortalDisabled
	}
	return c.deps.Portal.Stop()
}

// PortalRunning reports whether the portal process is alive.
func (c *Coordinator) PortalRunning() bool {
	return c.deps.Portal != nil && c.deps.Portal.Running()
}

// sessionConfig returns the cached descriptor, fetching it when absent.
func (c *Coordinator) sessionConfig(ctx context.Context) (*types.SessionConfig, error) {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	if cfg != nil {
		return cfg, nil
	}
	cfg, err := c.FetchConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}
	return cfg, nil
}
