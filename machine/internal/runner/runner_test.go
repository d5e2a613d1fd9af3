package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chordhq/chord/machine/internal/runner"
	"github.com/chordhq/chord/shared/remoting"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type blockingProgram struct {
	release chan struct{}
	err     error
}

func (p *blockingProgram) Run(ctx context.Context) error {
	select {
	case <-p.release:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drainUntilTerminal(t *testing.T, lm *runner.LocalMachine, states chan remoting.MachineState) remoting.MachineState {
	t.Helper()
	var last remoting.MachineState
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			last = s
			if s.Terminal() {
				return last
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal state")
		}
	}
}

func newObservedMachine(program runner.Program, startSuspended bool) (*runner.LocalMachine, chan remoting.MachineState, chan int32) {
	states := make(chan remoting.MachineState, 16)
	exits := make(chan int32, 1)
	lm := runner.NewLocalMachine(context.Background(), program, startSuspended, zap.NewNop())
	lm.OnStateChanged(func(s remoting.MachineState) { states <- s })
	lm.OnExit(func(code int32) { exits <- code })
	return lm, states, exits
}

func TestNotifyInitCompleteStartsSuspendedMachineWithoutRunning(t *testing.T) {
	program := &blockingProgram{release: make(chan struct{})}
	lm, states, _ := newObservedMachine(program, true)

	require.Equal(t, remoting.Suspended, lm.CurrentState())
	lm.NotifyInitComplete()

	select {
	case s := <-states:
		require.Equal(t, remoting.Suspended, s)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an initial Suspended state")
	}

	select {
	case s := <-states:
		t.Fatalf("unexpected further state before any Resume: %v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResumeAfterSuspendedInitLaunchesProgram(t *testing.T) {
	program := &blockingProgram{release: make(chan struct{})}
	lm, states, exits := newObservedMachine(program, true)
	lm.NotifyInitComplete()
	<-states // initial Suspended

	lm.Resume()
	require.Equal(t, remoting.Running, <-states)

	close(program.release)
	final := drainUntilTerminal(t, lm, states)
	require.Equal(t, remoting.Completed, final)
	require.Equal(t, int32(0), <-exits)
}

func TestProgramFailureReportsFailureState(t *testing.T) {
	program := &blockingProgram{release: make(chan struct{}), err: errors.New("boom")}
	lm, states, exits := newObservedMachine(program, false)
	lm.NotifyInitComplete()
	require.Equal(t, remoting.Running, <-states)

	close(program.release)
	final := drainUntilTerminal(t, lm, states)
	require.Equal(t, remoting.Failure, final)
	require.Equal(t, int32(2), <-exits)
}

func TestTerminateBeforeResumeReportsCancelled(t *testing.T) {
	program := &blockingProgram{release: make(chan struct{})}
	lm, states, exits := newObservedMachine(program, true)
	lm.NotifyInitComplete()
	<-states // initial Suspended

	lm.Terminate()
	final := drainUntilTerminal(t, lm, states)
	require.Equal(t, remoting.Cancelled, final)
	require.Equal(t, int32(1), <-exits)
}
