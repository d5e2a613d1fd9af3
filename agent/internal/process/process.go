// Package process wraps one machine child process: spawning it,
// capturing its stdio, tracking its lifecycle state, and reporting its
// exit back onto the agent's event loop.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/chordhq/chord/shared/chorderr"
	"go.uber.org/zap"
)

// State is the machine process's lifecycle state. Transitions only
// ever go Initial->Created->Starting->Running->Terminating->Exited, or
// an early Terminating from Starting when the supervisor abandons a
// machine mid-registration. Exited is terminal.
type State int

const (
	Initial State = iota
	Created
	Starting
	Running
	Terminating
	Exited
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case Created:
		return "Created"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Terminating:
		return "Terminating"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// ExitCallback is invoked exactly once when the child exits, carrying
// the machineId, OS exit code, and signal (0 if none). It is called on
// whatever goroutine reaped the child; callers that need the
// supervisor's event-loop semantics marshal it back themselves.
type ExitCallback func(machineID string, exitCode int, signal int)

// Options configures how a machine's argument vector is built.
type Options struct {
	ExecutablePath string
	ExtraArgs      []string
	Env            []string
}

// Handle is the supervisor's view of one spawned machine, satisfied by
// *Machine (the bare-subprocess backend) and by
// agent/internal/isolation's container-backed backend. The supervisor
// holds no lock of its own over a Handle's mutable state; callers
// mutate it only while already holding the supervisor's mutex.
type Handle interface {
	State() State
	SetState(State)
	Terminate(sig syscall.Signal) error
	ExitStatus() (code int, signal int)
}

// Spawner builds and launches a Handle. The default backend
// (DefaultSpawner) runs the machine as a bare subprocess; the
// Docker-backed alternative lives in agent/internal/isolation and is
// selected by the --isolation flag.
type Spawner interface {
	Spawn(ctx context.Context, machineID, mainPackage, supervisorEndpoint, runDirectory string, options Options, log *zap.Logger, onExit ExitCallback) (Handle, error)
}

// DefaultSpawner runs machines as bare subprocesses via os/exec.
type DefaultSpawner struct{}

func (DefaultSpawner) Spawn(ctx context.Context, machineID, mainPackage, supervisorEndpoint, runDirectory string, options Options, log *zap.Logger, onExit ExitCallback) (Handle, error) {
	m, err := Create(machineID, mainPackage, supervisorEndpoint, options)
	if err != nil {
		return nil, err
	}
	if err := m.Spawn(ctx, runDirectory, log, onExit); err != nil {
		return nil, err
	}
	return m, nil
}

// Machine wraps one child process. Per spec, state is mediated by the
// supervisor's mutex; Machine itself holds no lock, so callers must
// already be holding the supervisor's lock before touching state.
type Machine struct {
	MachineID          string
	MainPackage        string
	SupervisorEndpoint string
	options            Options

	state State
	cmd   *exec.Cmd
	logger *Logger

	exitCode int
	exitSig  int
}

// Create builds the argument vector from options but does not spawn
// the child. Fails InvalidConfiguration if the executable path is
// empty.
func Create(machineID, mainPackage, supervisorEndpoint string, options Options) (*Machine, error) {
	if options.ExecutablePath == "" {
		return nil, chorderr.New(chorderr.InvalidConfiguration, "machine executable path must not be empty")
	}
	return &Machine{
		MachineID:          machineID,
		MainPackage:        mainPackage,
		SupervisorEndpoint: supervisorEndpoint,
		options:            options,
		state:              Initial,
	}, nil
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// SetState is exposed so the supervisor can force a transition (e.g.
// Starting->Running on startMachine) while holding its own lock.
func (m *Machine) SetState(s State) { m.state = s }

// Spawn launches the child with stdout/stderr piped through a Logger
// that tags every line with the machineId, and arranges for onExit to
// be invoked exactly once when the child exits. Transitions
// Initial->Created on success.
func (m *Machine) Spawn(ctx context.Context, runDirectory string, log *zap.Logger, onExit ExitCallback) error {
	args := append([]string{m.MainPackage, "--supervisor-endpoint", m.SupervisorEndpoint, "--machine-id", m.MachineID}, m.options.ExtraArgs...)
	cmd := exec.CommandContext(ctx, m.options.ExecutablePath, args...)
	cmd.Dir = runDirectory
	cmd.Env = append(os.Environ(), m.options.Env...)

	logger, err := newLogger(m.MachineID, cmd, log)
	if err != nil {
		return chorderr.Wrap(chorderr.MachineError, "capture machine stdio", err)
	}

	if err := cmd.Start(); err != nil {
		return chorderr.Wrap(chorderr.MachineError, fmt.Sprintf("spawn machine %s", m.MachineID), err)
	}

	m.cmd = cmd
	m.logger = logger
	m.state = Created

	logger.start()

	go func() {
		waitErr := cmd.Wait()
		logger.wait()
		code, sig := exitStatusOf(waitErr)
		m.exitCode = code
		m.exitSig = sig
		onExit(m.MachineID, code, sig)
	}()

	return nil
}

// Terminate sends signal (default SIGTERM) to the child. Legal from
// {Created, Starting, Running, Terminating}; idempotent in Terminating
// so escalation (e.g. a second call with SIGKILL) is possible.
func (m *Machine) Terminate(sig syscall.Signal) error {
	switch m.state {
	case Created, Starting, Running, Terminating:
	default:
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("terminate: machine %s not in a terminable state (%s)", m.MachineID, m.state))
	}
	if m.cmd == nil || m.cmd.Process == nil {
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("terminate: machine %s has no running process", m.MachineID))
	}
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	if err := m.cmd.Process.Signal(sig); err != nil {
		return chorderr.Wrap(chorderr.PosixError, fmt.Sprintf("signal machine %s", m.MachineID), err)
	}
	m.state = Terminating
	return nil
}

// ExitStatus returns the exit code and signal recorded when the child
// exited. Only meaningful once State() == Exited.
func (m *Machine) ExitStatus() (code int, signal int) { return m.exitCode, m.exitSig }

func exitStatusOf(err error) (code int, signal int) {
	if err == nil {
		return 0, 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return -1, int(ws.Signal())
			}
			return ws.ExitStatus(), 0
		}
		return exitErr.ExitCode(), 0
	}
	return -1, 0
}
