// Package runner implements InterpreterRunner and LocalMachine: the
// machine's own tiny event loop, grounded on the teacher's
// agent/internal/executor channel-queue worker (one queue, one
// goroutine draining it, Run blocking until ctx is canceled) — turned
// from a job queue into the two fixed-size message queues spec
// section 4.8 describes (an inbox of control signals, an outbox of
// lifecycle states).
package runner

import (
	"context"
	"sync"

	"github.com/chordhq/chord/shared/remoting"
	"go.uber.org/zap"
)

// Signal is a message posted to the runner's inbox by LocalMachine's
// control methods.
type Signal int

const (
	SignalSuspend Signal = iota
	SignalResume
	SignalTerminate
)

// Program is the interpreter itself. Run is called at most once, when
// the runner first reaches Running (at start, or on the first Resume of
// a suspended runner), and its return value maps to Completed (nil) or
// Failure (non-nil).
type Program interface {
	Run(ctx context.Context) error
}

// Runner owns a single Program and runs it on its own goroutine. Its
// outbox values are remoting.MachineState directly: the runner is the
// sole place that decides what state the program's lifecycle has
// reached, so there is no separate outbox enum to map from.
type Runner struct {
	program Program
	inbox   chan Signal
	outbox  chan remoting.MachineState
	log     *zap.Logger
}

// NewRunner builds a Runner around program, not yet started.
func NewRunner(program Program, log *zap.Logger) *Runner {
	return &Runner{
		program: program,
		inbox:   make(chan Signal, 4),
		outbox:  make(chan remoting.MachineState, 16),
		log:     log.Named("runner"),
	}
}

// Start runs the interpreter loop on its own goroutine. startSuspended
// selects only the initial reported state (Suspended vs Running); the
// program itself is not launched until the runner actually reaches
// Running, whether that is immediately (startSuspended == false) or
// later via an explicit Resume signal.
func (r *Runner) Start(ctx context.Context, startSuspended bool) {
	go r.loop(ctx, startSuspended)
}

func (r *Runner) loop(ctx context.Context, startSuspended bool) {
	done := make(chan error, 1)
	started := false

	launch := func() {
		started = true
		go func() { done <- r.program.Run(ctx) }()
	}

	if startSuspended {
		r.outbox <- remoting.Suspended
	} else {
		r.outbox <- remoting.Running
		launch()
	}

	for {
		select {
		case <-ctx.Done():
			r.outbox <- remoting.Cancelled
			return
		case sig := <-r.inbox:
			switch sig {
			case SignalSuspend:
				r.outbox <- remoting.Suspended
			case SignalResume:
				if !started {
					launch()
				}
				r.outbox <- remoting.Running
			case SignalTerminate:
				r.outbox <- remoting.Cancelled
				return
			}
		case err := <-done:
			if err != nil {
				r.log.Warn("interpreter program returned an error", zap.Error(err))
				r.outbox <- remoting.Failure
			} else {
				r.outbox <- remoting.Completed
			}
			return
		}
	}
}

// Signal posts sig to the inbox. Safe to call from any goroutine.
func (r *Runner) Signal(sig Signal) { r.inbox <- sig }

// Outbox exposes the state stream for LocalMachine to drain.
func (r *Runner) Outbox() <-chan remoting.MachineState { return r.outbox }

// LocalMachine wraps a Runner with the external hooks the binder's
// control RPCs and Monitor stream need: suspend/resume/terminate post
// inbox messages, and the outbox is consumed by a single goroutine
// that maps each state to a callback and, on the terminal state, an
// exit-status callback (see spec section 4.8).
type LocalMachine struct {
	runner         *Runner
	startSuspended bool
	ctx            context.Context
	cancel         context.CancelFunc

	mu      sync.Mutex
	current remoting.MachineState

	onStateChanged func(remoting.MachineState)
	onExit         func(exitStatus int32)

	startOnce sync.Once
}

// NewLocalMachine builds a LocalMachine. Per the spec's Open Question
// 2 decision, current is initialized to Suspended or Running (never
// UnknownState) before the interpreter loop even starts, so a Monitor
// call that races NotifyInitComplete always observes a real state.
func NewLocalMachine(parent context.Context, program Program, startSuspended bool, log *zap.Logger) *LocalMachine {
	ctx, cancel := context.WithCancel(parent)
	initial := remoting.Running
	if startSuspended {
		initial = remoting.Suspended
	}
	return &LocalMachine{
		runner:         NewRunner(program, log),
		startSuspended: startSuspended,
		ctx:            ctx,
		cancel:         cancel,
		current:        initial,
	}
}

// OnStateChanged registers the callback invoked on every outbox event,
// including the terminal one.
func (lm *LocalMachine) OnStateChanged(fn func(remoting.MachineState)) { lm.onStateChanged = fn }

// OnExit adds a callback invoked exactly once, after the terminal
// state, with the integer exit status carried over Monitor. Every
// added callback runs, in the order they were added.
func (lm *LocalMachine) OnExit(fn func(exitStatus int32)) {
	prev := lm.onExit
	if prev == nil {
		lm.onExit = fn
		return
	}
	lm.onExit = func(exitStatus int32) {
		prev(exitStatus)
		fn(exitStatus)
	}
}

// CurrentState returns the most recently observed state.
func (lm *LocalMachine) CurrentState() remoting.MachineState {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.current
}

// NotifyInitComplete starts the interpreter loop. Idempotent: only the
// first call (the one the binder makes once every required-at-launch
// handler has attached) has any effect. It does NOT implicitly resume
// a startSuspended machine — per spec section 9's resolution, that
// transition belongs to the isolate's explicit Resume, not here.
func (lm *LocalMachine) NotifyInitComplete() {
	lm.startOnce.Do(func() {
		lm.runner.Start(lm.ctx, lm.startSuspended)
		go lm.drainOutbox()
	})
}

func (lm *LocalMachine) drainOutbox() {
	for state := range lm.runner.Outbox() {
		lm.mu.Lock()
		lm.current = state
		lm.mu.Unlock()

		if lm.onStateChanged != nil {
			lm.onStateChanged(state)
		}
		if state.Terminal() {
			if lm.onExit != nil {
				lm.onExit(exitStatusFor(state))
			}
			lm.cancel()
			return
		}
	}
}

func exitStatusFor(state remoting.MachineState) int32 {
	switch state {
	case remoting.Completed:
		return 0
	case remoting.Cancelled:
		return 1
	default:
		return 2
	}
}

// Suspend, Resume, and Terminate post the matching signal to the
// runner's inbox, which buffers four signals. A call returns at once
// while the inbox has room and blocks while it is full; the inbox is
// drained only while the interpreter loop runs (from
// NotifyInitComplete until a terminal state).
func (lm *LocalMachine) Suspend()   { lm.runner.Signal(SignalSuspend) }
func (lm *LocalMachine) Resume()    { lm.runner.Signal(SignalResume) }
func (lm *LocalMachine) Terminate() { lm.runner.Signal(SignalTerminate) }
