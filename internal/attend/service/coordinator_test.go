package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ipbeep/attendance/internal/attend/camera"
	"github.com/ipbeep/attendance/internal/attend/match"
	"github.com/ipbeep/attendance/internal/attend/probe"
	"github.com/ipbeep/attendance/internal/attend/store/memory"
	"github.com/ipbeep/attendance/internal/attend/types"
)

// fakeRemote serves a fixed config and records uploads.
type fakeRemote struct {
	mu        sync.Mutex
	cfg       *types.SessionConfig
	fetchErr  error
	uploads   []types.SessionDocument
	uploadErr error
}

func (f *fakeRemote) FetchSessionConfig(context.Context, string) (*types.SessionConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	cfg := *f.cfg
	return &cfg, nil
}

func (f *fakeRemote) UploadSessionLog(_ context.Context, doc types.SessionDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, doc)
	return nil
}

func (f *fakeRemote) Uploads() []types.SessionDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.SessionDocument, len(f.uploads))
	copy(out, f.uploads)
	return out
}

func (f *fakeRemote) SetFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeRemote) SetUploadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadErr = err
}

type coordFixture struct {
	coord  *Coordinator
	remote *fakeRemote
	store  *memory.LedgerStore
	deps   Dependencies
}

func newCoordFixture(t *testing.T, mutate func(*Dependencies)) *coordFixture {
	t.Helper()

	cfg := testSessionConfig()
	remote := &fakeRemote{cfg: &cfg}
	st := memory.NewLedgerStore()

	deps := Dependencies{
		Logger:        testLogger(),
		Registrations: memory.NewRegistrationStore(testRegistrations()...),
		LedgerStore:   st,
		Events:        memory.NewEventStore(),
		Probe:         probe.NewStatic("aa:bb:cc:dd:ee:01"),
		NewCamera: func() (camera.Source, error) {
			return camera.NewReplay(time.Millisecond), nil
		},
		Matcher: match.Disabled,
		Remote:  remote,
		Archive: remote,
		Settings: Settings{
			SamplePeriod:   10 * time.Millisecond,
			CreditMinutes:  0.5,
			Cooldown:       time.Hour,
			SaveInterval:   time.Hour,
			HandoffTimeout: 500 * time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&deps)
	}

	fx := &coordFixture{coord: NewCoordinator(deps), remote: remote, store: st, deps: deps}
	t.Cleanup(fx.coord.Shutdown)
	return fx
}

func mustState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	if got := c.Status().State; got != string(want) {
		t.Fatalf("state = %s, want %s", got, want)
	}
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func TestCoordinatorFullLifecycle(t *testing.T) {
	fx := newCoordFixture(t, nil)
	ctx := context.Background()

	mustState(t, fx.coord, StateIdle)
	if _, err := fx.coord.FetchConfig(ctx); err != nil {
		t.Fatalf("FetchConfig failed: %v", err)
	}

	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	mustState(t, fx.coord, StatePresenceTracking)

	// Let the first accrual cycle land before transitioning.
	waitFor(t, 2*time.Second, func() bool { return fx.store.Saves() >= 1 })

	if err := fx.coord.BeginFacePhase(ctx); err != nil {
		t.Fatalf("BeginFacePhase failed: %v", err)
	}
	mustState(t, fx.coord, StateFaceTracking)

	if err := fx.coord.EndSession(ctx); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	mustState(t, fx.coord, StateCompleted)
	if err := fx.coord.ArchiveError(); err != nil {
		t.Fatalf("ArchiveError = %v after clean archival", err)
	}

	docs := fx.remote.Uploads()
	if len(docs) != 1 {
		t.Fatalf("archived %d documents, want 1", len(docs))
	}
	doc := docs[0]
	if doc.CourseID != "CS101" || doc.SessionID != "2026-08-31" {
		t.Fatalf("archived wrong session: %s/%s", doc.CourseID, doc.SessionID)
	}
	if p, ok := doc.Students["s1"]; !ok || p.TotalMinutes < 0.5 {
		t.Fatalf("archived s1 = %+v, want accrued minutes", p)
	}
}

func TestCoordinatorRepeatedFaceTransitionRejected(t *testing.T) {
	fx := newCoordFixture(t, nil)
	ctx := context.Background()

	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := fx.coord.BeginFacePhase(ctx); err != nil {
		t.Fatalf("BeginFacePhase failed: %v", err)
	}
	if err := fx.coord.BeginFacePhase(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second BeginFacePhase = %v, want ErrInvalidTransition", err)
	}
	// The running face phase is undisturbed.
	mustState(t, fx.coord, StateFaceTracking)
	if err := fx.coord.EndSession(ctx); err != nil {
		t.Fatalf("EndSession after rejected transition failed: %v", err)
	}
}

func TestCoordinatorArchiveFailureStillCompletes(t *testing.T) {
	fx := newCoordFixture(t, nil)
	ctx := context.Background()
	fx.remote.SetUploadErr(errors.New("archive endpoint down"))

	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := fx.coord.BeginFacePhase(ctx); err != nil {
		t.Fatalf("BeginFacePhase failed: %v", err)
	}
	if err := fx.coord.EndSession(ctx); err != nil {
		t.Fatalf("EndSession failed despite archive error: %v", err)
	}
	mustState(t, fx.coord, StateCompleted)
	if fx.coord.ArchiveError() == nil {
		t.Fatal("archive failure not recorded")
	}

	// A fresh session can start from COMPLETED, clearing the failure.
	fx.remote.SetUploadErr(nil)
	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("restart after archive failure: %v", err)
	}
	if err := fx.coord.ArchiveError(); err != nil {
		t.Fatalf("ArchiveError = %v after restart, want cleared", err)
	}
}

func TestCoordinatorEndFromPresencePhase(t *testing.T) {
	fx := newCoordFixture(t, nil)
	ctx := context.Background()

	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := fx.coord.EndSession(ctx); err != nil {
		t.Fatalf("EndSession from presence phase failed: %v", err)
	}
	mustState(t, fx.coord, StateCompleted)
	if len(fx.remote.Uploads()) != 1 {
		t.Fatal("session skipped the face phase but was not archived")
	}
}

// ── Transition guards ────────────────────────────────────────────────────────

func TestCoordinatorRejectsOutOfPhaseTransitions(t *testing.T) {
	fx := newCoordFixture(t, nil)
	ctx := context.Background()

	if err := fx.coord.BeginFacePhase(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("BeginFacePhase from idle = %v, want ErrInvalidTransition", err)
	}
	if err := fx.coord.EndSession(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("EndSession from idle = %v, want ErrInvalidTransition", err)
	}

	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := fx.coord.StartSession(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double StartSession = %v, want ErrInvalidTransition", err)
	}
}

func TestCoordinatorStartRequiresRegistrations(t *testing.T) {
	fx := newCoordFixture(t, func(d *Dependencies) {
		d.Registrations = memory.NewRegistrationStore()
	})

	err := fx.coord.StartSession(context.Background())
	if !errors.Is(err, ErrConfigUnavailable) {
		t.Fatalf("StartSession with empty roster = %v, want ErrConfigUnavailable", err)
	}
	mustState(t, fx.coord, StateIdle)
}

func TestCoordinatorStartRequiresConfig(t *testing.T) {
	fx := newCoordFixture(t, func(d *Dependencies) {
		d.Remote = nil
	})

	err := fx.coord.StartSession(context.Background())
	if !errors.Is(err, ErrConfigUnavailable) {
		t.Fatalf("StartSession without config source = %v, want ErrConfigUnavailable", err)
	}
}

func TestCoordinatorUsesCachedConfig(t *testing.T) {
	fx := newCoordFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.coord.FetchConfig(ctx); err != nil {
		t.Fatalf("FetchConfig failed: %v", err)
	}
	// The remote going away after a successful fetch must not block a
	// session start.
	fx.remote.SetFetchErr(errors.New("remote unreachable"))
	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("StartSession on cached config failed: %v", err)
	}
}

func TestCoordinatorCameraFailureRejectsFacePhase(t *testing.T) {
	fx := newCoordFixture(t, func(d *Dependencies) {
		d.NewCamera = func() (camera.Source, error) {
			return nil, errors.New("device busy")
		}
	})
	ctx := context.Background()

	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := fx.coord.BeginFacePhase(ctx); err == nil {
		t.Fatal("BeginFacePhase succeeded without a camera")
	}
	// Accrual keeps running and the session can still end cleanly.
	mustState(t, fx.coord, StatePresenceTracking)
	if err := fx.coord.EndSession(ctx); err != nil {
		t.Fatalf("EndSession after camera failure: %v", err)
	}
}

// ── Live status ──────────────────────────────────────────────────────────────

func TestCoordinatorConnected(t *testing.T) {
	fx := newCoordFixture(t, nil)
	ctx := context.Background()

	// No session: empty payload, never an error.
	st := fx.coord.Connected(ctx)
	if st.Connected != 0 || len(st.Students) != 0 {
		t.Fatalf("Connected without session = %+v", st)
	}

	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	st = fx.coord.Connected(ctx)
	if st.Connected != 1 || len(st.Students) != 1 || st.Students[0] != "s1" {
		t.Fatalf("Connected = %+v, want s1 only", st)
	}
}

func TestCoordinatorRecognizedOutsideFacePhase(t *testing.T) {
	fx := newCoordFixture(t, nil)

	st := fx.coord.Recognized()
	if st.Recognized == nil || st.Updates == nil {
		t.Fatalf("Recognized payload has nil slices: %+v", st)
	}
	if len(st.Recognized) != 0 || len(st.Updates) != 0 {
		t.Fatalf("Recognized outside face phase = %+v, want empty", st)
	}
	if _, ok := fx.coord.PreviewJPEG(); ok {
		t.Fatal("preview available outside face phase")
	}
}

// ── Portal ───────────────────────────────────────────────────────────────────

func TestCoordinatorPortalLifecycle(t *testing.T) {
	fx := newCoordFixture(t, func(d *Dependencies) {
		d.Portal = NewAuxiliary([]string{"sleep", "60"}, testLogger())
	})
	ctx := context.Background()

	if err := fx.coord.StartPortal(); err != nil {
		t.Fatalf("StartPortal failed: %v", err)
	}
	if !fx.coord.PortalRunning() {
		t.Fatal("portal not running after start")
	}

	// Starting a session auto-stops the portal.
	if err := fx.coord.StartSession(ctx); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if fx.coord.PortalRunning() {
		t.Fatal("portal still running during tracking")
	}

	// And the portal cannot come back while tracking.
	if err := fx.coord.StartPortal(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("StartPortal while tracking = %v, want ErrInvalidTransition", err)
	}

	if err := fx.coord.EndSession(ctx); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := fx.coord.StartPortal(); err != nil {
		t.Fatalf("StartPortal after session end failed: %v", err)
	}
	if err := fx.coord.StopPortal(); err != nil {
		t.Fatalf("StopPortal failed: %v", err)
	}
}

func TestCoordinatorPortalDisabled(t *testing.T) {
	fx := newCoordFixture(t, nil)

	if err := fx.coord.StartPortal(); !errors.Is(err, ErrPortalDisabled) {
		t.Fatalf("StartPortal without portal = %v, want ErrPortalDisabled", err)
	}
	if err := fx.coord.StopPortal(); !errors.Is(err, ErrPortalDisabled) {
		t.Fatalf("StopPortal without portal = %v, want ErrPortalDisabled", err)
	}
	if fx.coord.PortalRunning() {
		t.Fatal("PortalRunning true without portal")
	}
}
