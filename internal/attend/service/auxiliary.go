package service

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"
)

// killAfter bounds how long Stop waits for a graceful exit before the
// process is killed outright.
const killAfter = 5 * time.Second

// Auxiliary manages the registration portal as a child process.  The
// portal serves the self-registration form before a session; the
// coordinator stops it before tracking starts so the two are never alive
// together.
type Auxiliary struct {
	argv   []string
	logger *log.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewAuxiliary builds a runner for the given command line.  An empty
// command line disables the runner: Start reports ErrPortalDisabled and
// Stop is a no-op.
func NewAuxiliary(argv []string, logger *log.Logger) *Auxiliary {
	return &Auxiliary{argv: argv, logger: logger}
}

func (a *Auxiliary) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cmd != nil
}

// Start launches the process.  Starting while already running is a no-op.
func (a *Auxiliary) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.argv) == 0 {
		return ErrPortalDisabled
	}
	if a.cmd != nil {
		return nil
	}

	cmd := exec.Command(a.argv[0], a.argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start portal: %w", err)
	}

	done := make(chan struct{})
	a.cmd, a.done = cmd, done

	go func() {
		err := cmd.Wait()

		// Clear state before signalling done, so Running is already
		// false when a Stop caller unblocks.
		a.mu.Lock()
		if a.cmd == cmd {
			a.cmd, a.done = nil, nil
		}
		a.mu.Unlock()
		close(done)

		if err != nil {
			a.logger.Printf("portal exited: %v", err)
		} else {
			a.logger.Printf("portal exited")
		}
	}()

	a.logger.Printf("portal started: %v", a.argv)
	return nil
}

// Stop interrupts the process and waits for it to exit, escalating to a
// kill after killAfter.  Stopping a non-running portal is a no-op.
func (a *Auxiliary) Stop() error {
	a.mu.Lock()
	cmd, done := a.cmd, a.done
	a.mu.Unlock()

	if cmd == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-done:
	case <-time.After(killAfter):
		a.logger.Printf("portal did not exit after interrupt, killing")
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}
