// Package supervisor implements MachineSupervisor, the agent's core
// state machine: it spawns and reaps machine child processes, tracks
// each through a four-phase registration handshake, enforces per-phase
// timeouts, and guarantees exactly one terminal notification per
// machine.
//
// The supervisor never touches gRPC. Every entry point takes and
// returns plain Go values (or, for waiter payloads, the generic `any`
// the caller itself defines) so it can be driven entirely from tests,
// per the "testable without any RPC machinery" design note.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/chordhq/chord/agent/internal/process"
	"github.com/chordhq/chord/shared/chorderr"
	"go.uber.org/zap"
)

// MachineHandle is the opaque identifier passed to waiter callbacks.
type MachineHandle struct {
	MachineID string
}

// ExitStatus is produced exactly once per reaped machine.
type ExitStatus struct {
	MachineID string
	ExitCode  int
	Signal    int
}

// SpawnWaiter is completed when a spawned machine calls
// SignCertificates (OnComplete) or when the spawning phase fails, by
// timeout or otherwise (OnStatus).
type SpawnWaiter interface {
	OnSpawnComplete(handle MachineHandle, signRequest any)
	OnSpawnStatus(err error)
}

// SignWaiter is completed when a client calls RunMachine (OnComplete)
// or when the signing phase fails (OnStatus).
type SignWaiter interface {
	OnSignComplete(handle MachineHandle, runRequest any)
	OnSignStatus(err error)
}

// ReadyWaiter is completed when a machine calls AdvertiseEndpoints
// (OnComplete) or when the ready phase fails (OnStatus).
type ReadyWaiter interface {
	OnReadyComplete(handle MachineHandle, advertiseRequest any)
	OnReadyStatus(err error)
}

// TerminateWaiter is completed exactly once when a machine is reaped,
// whether it was explicitly terminated or exited on its own while a
// terminate was pending.
type TerminateWaiter interface {
	OnTerminateComplete(status ExitStatus)
	OnTerminateStatus(err error)
}

type spawningCtx struct {
	timer  *time.Timer
	waiter SpawnWaiter
}

type signingCtx struct {
	timer  *time.Timer
	waiter SignWaiter
}

type readyCtx struct {
	timer  *time.Timer
	waiter ReadyWaiter
}

type waitingCtx struct {
	waiter TerminateWaiter
}

// Config configures a Supervisor.
type Config struct {
	Logger              *zap.Logger
	RunDirectory        string
	SupervisorEndpoint  string        // passed to each spawned machine as --supervisor-endpoint
	RegistrationTimeout time.Duration // default 5s, per spec
	IdleTimeout         time.Duration // 0 disables the idle timer
	// OnIdle is invoked when the fleet has been empty for IdleTimeout.
	// The agent uses it to stop its own serving loop.
	OnIdle func()
	// Spawner builds and launches machine processes. Defaults to
	// process.DefaultSpawner{} (bare subprocess); the --isolation=docker
	// CLI flag injects agent/internal/isolation's container-backed
	// Spawner instead.
	Spawner process.Spawner
}

// Supervisor is the state machine of spec section 4.3. One coarse
// mutex guards all five tables; callers (RPC reactors) only hold it
// briefly to post into these tables, and every waiter is invoked while
// holding it, which keeps waiter ordering per machineId total.
type Supervisor struct {
	log                 *zap.Logger
	runDirectory        string
	supervisorEndpoint  string
	registrationTimeout time.Duration
	idleTimeout         time.Duration
	onIdle              func()
	spawner             process.Spawner

	mu           sync.Mutex
	shuttingDown bool
	idleTimer    *time.Timer

	machines map[string]process.Handle
	spawning map[string]*spawningCtx
	signing  map[string]*signingCtx
	ready    map[string]*readyCtx
	waiting  map[string]*waitingCtx
}

// New builds a Supervisor. If cfg.RegistrationTimeout is zero it
// defaults to 5 seconds, matching the CLI's --registration-timeout
// default.
func New(cfg Config) *Supervisor {
	timeout := cfg.RegistrationTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	spawner := cfg.Spawner
	if spawner == nil {
		spawner = process.DefaultSpawner{}
	}
	s := &Supervisor{
		log:                 cfg.Logger.Named("supervisor"),
		runDirectory:        cfg.RunDirectory,
		supervisorEndpoint:  cfg.SupervisorEndpoint,
		registrationTimeout: timeout,
		idleTimeout:         cfg.IdleTimeout,
		onIdle:              cfg.OnIdle,
		spawner:             spawner,
		machines:            make(map[string]process.Handle),
		spawning:            make(map[string]*spawningCtx),
		signing:             make(map[string]*signingCtx),
		ready:               make(map[string]*readyCtx),
		waiting:             make(map[string]*waitingCtx),
	}
	s.armIdleTimerLocked()
	return s
}

// SpawnMachine creates and spawns a machine process, entering the
// spawning phase. onSpawn is retained and invoked exactly once: on
// success via RequestCertificates, on synchronous spawn failure via
// the returned error (the caller turns this into an ABORTED RPC
// status without the supervisor sending any reply itself), or later
// via abandon on registration timeout.
func (s *Supervisor) SpawnMachine(ctx context.Context, name, mainPackage string, options process.Options, onSpawn SpawnWaiter) error {
	if onSpawn == nil {
		return chorderr.New(chorderr.InternalViolation, "spawnMachine: onSpawn waiter must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown {
		return chorderr.New(chorderr.InternalViolation, "spawnMachine: supervisor is shutting down")
	}
	if _, exists := s.machines[name]; exists {
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("spawnMachine: machine %q already exists", name))
	}

	m, err := s.spawner.Spawn(ctx, name, mainPackage, s.supervisorEndpoint, s.runDirectory, options, s.log, s.onMachineExit)
	if err != nil {
		return err
	}

	s.stopIdleTimerLocked()
	s.machines[name] = m
	m.SetState(process.Starting)
	s.spawning[name] = &spawningCtx{
		timer:  s.armPhaseTimeoutLocked(name),
		waiter: onSpawn,
	}
	return nil
}

// RequestCertificates advances name from spawning to signing. It
// completes the spawning waiter with signRequest (this is the RPC
// reply for CreateMachine) and installs onSign as the waiter for the
// signing phase.
func (s *Supervisor) RequestCertificates(name string, signRequest any, onSign SignWaiter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.spawning[name]
	if !ok {
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("requestCertificates: machine %q is not spawning", name))
	}
	delete(s.spawning, name)
	ctx.timer.Stop()

	ctx.waiter.OnSpawnComplete(MachineHandle{MachineID: name}, signRequest)

	s.signing[name] = &signingCtx{
		timer:  s.armPhaseTimeoutLocked(name),
		waiter: onSign,
	}
	return nil
}

// BindCertificates advances name from signing to ready, symmetric with
// RequestCertificates: completes the SignCertificates RPC.
func (s *Supervisor) BindCertificates(name string, runRequest any, onReady ReadyWaiter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.signing[name]
	if !ok {
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("bindCertificates: machine %q is not signing", name))
	}
	delete(s.signing, name)
	ctx.timer.Stop()

	ctx.waiter.OnSignComplete(MachineHandle{MachineID: name}, runRequest)

	s.ready[name] = &readyCtx{
		timer:  s.armPhaseTimeoutLocked(name),
		waiter: onReady,
	}
	return nil
}

// StartMachine advances name from ready to steady-state Running. It
// does not create a new phase context: the machine stays Running until
// TerminateMachine or the child exits on its own.
func (s *Supervisor) StartMachine(name string, advertiseRequest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.ready[name]
	if !ok {
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("startMachine: machine %q is not ready", name))
	}
	delete(s.ready, name)
	ctx.timer.Stop()

	if m, ok := s.machines[name]; ok {
		m.SetState(process.Running)
	}

	ctx.waiter.OnReadyComplete(MachineHandle{MachineID: name}, advertiseRequest)
	return nil
}

// TerminateMachine sends SIGTERM to the named machine and installs
// onTerminate, which fires from release once the child is reaped. At
// most one terminate waiter may be installed at a time; a second
// concurrent call is InternalViolation.
func (s *Supervisor) TerminateMachine(name string, onTerminate TerminateWaiter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[name]
	if !ok {
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("terminateMachine: machine %q does not exist", name))
	}
	switch m.State() {
	case process.Created, process.Starting, process.Running, process.Terminating:
	default:
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("terminateMachine: machine %q is in state %s", name, m.State()))
	}
	if _, exists := s.waiting[name]; exists {
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("terminateMachine: machine %q is already terminating", name))
	}

	s.waiting[name] = &waitingCtx{waiter: onTerminate}
	if err := m.Terminate(syscall.SIGTERM); err != nil {
		delete(s.waiting, name)
		return err
	}
	return nil
}

// abandonLocked is invoked only from a phase-timeout callback. While the
// child is alive it acts only when the machine is still in {Created,
// Starting} and no terminate is already pending; it fails whichever
// phase waiter holds the machine, installs a synthetic internal-terminate
// waiter so the eventual reap has somewhere to land, and sends SIGTERM.
// If the child has already been reaped, it only fails the phase waiter.
func (s *Supervisor) abandonLocked(name string) {
	m, alive := s.machines[name]
	if alive {
		switch m.State() {
		case process.Created, process.Starting:
		default:
			return
		}
		if _, exists := s.waiting[name]; exists {
			return
		}
	}

	err := chorderr.New(chorderr.InternalViolation, "abandoned machine")

	if ctx, ok := s.spawning[name]; ok {
		delete(s.spawning, name)
		ctx.timer.Stop()
		ctx.waiter.OnSpawnStatus(err)
	} else if ctx, ok := s.signing[name]; ok {
		delete(s.signing, name)
		ctx.timer.Stop()
		ctx.waiter.OnSignStatus(err)
	} else if ctx, ok := s.ready[name]; ok {
		delete(s.ready, name)
		ctx.timer.Stop()
		ctx.waiter.OnReadyStatus(err)
	} else {
		return
	}
	if !alive {
		return
	}

	s.waiting[name] = &waitingCtx{waiter: internalTerminateWaiter{log: s.log, machineID: name}}
	if err := m.Terminate(syscall.SIGTERM); err != nil {
		s.log.Warn("abandon: terminate failed", zap.String("machine_id", name), zap.Error(err))
	}
}

// internalTerminateWaiter swallows the eventual reap of an abandoned
// machine so no external callback is left dangling.
type internalTerminateWaiter struct {
	log       *zap.Logger
	machineID string
}

func (w internalTerminateWaiter) OnTerminateComplete(status ExitStatus) {
	w.log.Info("abandoned machine reaped", zap.String("machine_id", w.machineID), zap.Int("exit_code", status.ExitCode), zap.Int("signal", status.Signal))
}

func (w internalTerminateWaiter) OnTerminateStatus(err error) {
	w.log.Warn("abandoned machine terminate failed", zap.String("machine_id", w.machineID), zap.Error(err))
}

// onMachineExit is the ExitCallback passed to the configured
// process.Spawner; it is invoked on the goroutine that reaped the
// child (or, for the docker backend, the goroutine awaiting
// ContainerWait).
func (s *Supervisor) onMachineExit(machineID string, exitCode, signal int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release(machineID, exitCode, signal)
}

// release is the internal reap path: builds the ExitStatus, completes
// any pending terminate waiter exactly once, removes the machine, and
// re-arms the idle timer if the fleet is now empty.
func (s *Supervisor) release(name string, exitCode, signal int) {
	status := ExitStatus{MachineID: name, ExitCode: exitCode, Signal: signal}

	if m, ok := s.machines[name]; ok {
		m.SetState(process.Exited)
	}

	if ctx, ok := s.waiting[name]; ok {
		delete(s.waiting, name)
		ctx.waiter.OnTerminateComplete(status)
	}
	delete(s.machines, name)

	if len(s.machines) == 0 && len(s.waiting) == 0 {
		s.armIdleTimerLocked()
	}
}

// Shutdown marks the supervisor as shutting down: no new SpawnMachine
// is accepted afterward, and the idle timer is stopped. Existing
// machines are allowed to drain naturally. Idempotent: a second call
// after the first is a no-op.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return
	}
	s.shuttingDown = true
	s.stopIdleTimerLocked()
}

// IsIdle reports whether the fleet is currently empty (no machines,
// no pending terminates).
func (s *Supervisor) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.machines) == 0 && len(s.waiting) == 0
}

func (s *Supervisor) armPhaseTimeoutLocked(name string) *time.Timer {
	return time.AfterFunc(s.registrationTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.abandonLocked(name)
	})
}

func (s *Supervisor) stopIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Supervisor) armIdleTimerLocked() {
	if s.idleTimeout <= 0 {
		return
	}
	s.stopIdleTimerLocked()
	s.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		s.mu.Lock()
		idle := len(s.machines) == 0 && len(s.waiting) == 0
		onIdle := s.onIdle
		s.mu.Unlock()
		if idle && onIdle != nil {
			onIdle()
		}
	})
}
