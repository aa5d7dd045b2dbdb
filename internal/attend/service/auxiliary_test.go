package service

import (
	"errors"
	"testing"
	"time"
)

func TestAuxiliaryStartStop(t *testing.T) {
	a := NewAuxiliary([]string{"sleep", "60"}, testLogger())

	if a.Running() {
		t.Fatal("running before start")
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !a.Running() {
		t.Fatal("not running after start")
	}
	// Starting again is a no-op, not a second process.
	if err := a.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if a.Running() {
		t.Fatal("still running after stop")
	}
	// Stopping again is a no-op.
	if err := a.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestAuxiliaryDisabled(t *testing.T) {
	a := NewAuxiliary(nil, testLogger())

	if err := a.Start(); !errors.Is(err, ErrPortalDisabled) {
		t.Fatalf("Start = %v, want ErrPortalDisabled", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop on disabled runner = %v", err)
	}
}

func TestAuxiliaryObservesSelfExit(t *testing.T) {
	a := NewAuxiliary([]string{"true"}, testLogger())

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !a.Running() })
}
