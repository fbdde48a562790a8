// Package supervisor owns the simulator process and the operator console
// that ends a session.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/logging"
	"github.com/signalsfoundry/ot-databroker/model"
)

// ErrExternalSimulator is returned by Pid when the simulator is not a child
// of the broker.
var ErrExternalSimulator = errors.New("simulator is managed externally")

const (
	// Prompt is printed on the console while the session runs.
	Prompt = "***Enter X to stop simulation***"

	defaultStopGrace = time.Second
	reapTimeout      = 5 * time.Second
	stopPoll         = 50 * time.Millisecond
)

// Config describes the simulator and the console.
type Config struct {
	Simulator model.SimulatorSpec
	Args      []string

	// Console is read for the stop key; nil disables the watcher.
	Console io.Reader
	// PromptOut receives the operator prompt; nil discards it.
	PromptOut io.Writer
	// Stdout and Stderr of the child default to the broker's.
	Stdout io.Writer
	Stderr io.Writer

	// StopGrace is how long the simulator gets to exit on its own after
	// stop before it is sent SIGTERM.
	StopGrace time.Duration
}

// Supervisor starts the embedded simulator, watches the console, and tears
// the simulator down once the session stops.
type Supervisor struct {
	cfg  Config
	sems *ipc.Bank
	log  logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

// New returns a supervisor. log may be nil.
func New(cfg Config, sems *ipc.Bank, log logging.Logger) *Supervisor {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.PromptOut == nil {
		cfg.PromptOut = io.Discard
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Supervisor{
		cfg:  cfg,
		sems: sems,
		log:  logging.OrNoop(log).With(logging.Component("supervisor")),
	}
}

// Start launches the simulator as a child. For an external simulator it
// only tells the operator to start it.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Simulator.External() {
		s.log.Info(ctx, "external simulator selected; start the simulator now")
		return nil
	}

	cmd := exec.Command(s.cfg.Simulator.Executable, s.cfg.Args...)
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	cmd.SysProcAttr = sysProcAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start simulator %s: %w", s.cfg.Simulator.Executable, err)
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(exited)
	}()

	s.log.Info(ctx, "simulator started",
		logging.String("executable", s.cfg.Simulator.Executable),
		logging.Int("pid", cmd.Process.Pid),
	)
	return nil
}

// Pid returns the child's process ID.
func (s *Supervisor) Pid() (int, error) {
	if s.cfg.Simulator.External() {
		return 0, ErrExternalSimulator
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0, errors.New("simulator not started")
	}
	return s.cmd.Process.Pid, nil
}

// Exited is closed once the child has been reaped. It is nil for an
// external simulator or before Start.
func (s *Supervisor) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// WatchConsole reads the console until the stop key (x or X). It raises
// stop exactly once and reports whether it did; a closed console returns
// false with no error.
func (s *Supervisor) WatchConsole(ctx context.Context) (bool, error) {
	if s.cfg.Console == nil {
		return false, nil
	}
	in := bufio.NewReader(s.cfg.Console)
	fmt.Fprintf(s.cfg.PromptOut, "%s\n\n", Prompt)
	for {
		r, _, err := in.ReadRune()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("read console: %w", err)
		}
		switch r {
		case 'x', 'X':
			s.log.Info(ctx, "stop requested from console")
			fmt.Fprintln(s.cfg.PromptOut, "Stopping Simulator")
			return true, s.sems.SignalStop()
		case '\n':
			fmt.Fprintf(s.cfg.PromptOut, "%s\n\n", Prompt)
		}
	}
}

// Run starts the simulator, waits for stop from any source (console,
// simulator, signal handler) or ctx, then shuts the simulator down.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	keys := make(chan error, 1)
	go func() {
		_, err := s.WatchConsole(ctx)
		keys <- err
	}()

	ticker := time.NewTicker(stopPoll)
	defer ticker.Stop()
wait:
	for {
		select {
		case err := <-keys:
			if err != nil {
				s.log.Warn(ctx, "console watcher failed", logging.Err(err))
			}
			keys = nil
		case <-ticker.C:
			if s.sems.IsStopped() {
				break wait
			}
		case <-ctx.Done():
			break wait
		}
	}
	return s.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown gives the child StopGrace to exit, then sends SIGTERM and reaps
// it. SIGKILL follows if it is still alive after a further timeout.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	s.mu.Unlock()
	if cmd == nil {
		time.Sleep(s.cfg.StopGrace)
		return nil
	}

	select {
	case <-exited:
		return s.reaped(ctx)
	case <-time.After(s.cfg.StopGrace):
	}

	s.log.Info(ctx, "terminating simulator", logging.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate simulator: %w", err)
	}
	select {
	case <-exited:
		return s.reaped(ctx)
	case <-time.After(reapTimeout):
	}

	s.log.Warn(ctx, "simulator ignored SIGTERM; killing", logging.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill simulator: %w", err)
	}
	<-exited
	return s.reaped(ctx)
}

func (s *Supervisor) reaped(ctx context.Context) error {
	s.mu.Lock()
	err := s.waitErr
	s.mu.Unlock()
	// Exit status from our own SIGTERM is expected.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		s.log.Info(ctx, "simulator exited", logging.String("status", exitErr.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("wait for simulator: %w", err)
	}
	s.log.Info(ctx, "simulator exited", logging.String("status", "0"))
	return nil
}
