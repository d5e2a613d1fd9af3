package echoprogram_test

import (
	"context"
	"testing"
	"time"

	"github.com/chordhq/chord/machine/internal/echoprogram"
	"github.com/chordhq/chord/machine/internal/runner"
	"github.com/chordhq/chord/shared/remoting"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandlerFeedsInboxWithoutBlockingOnFullQueue(t *testing.T) {
	p := echoprogram.New("tcp://echo")
	h := p.Handler()
	for i := 0; i < 128; i++ {
		h.Handle([]byte("x"))
	}
	// Run should not find itself stuck even though far more frames were
	// posted than the inbox can hold; excess frames are dropped.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := p.Run(ctx)
	require.NoError(t, err)
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	program := echoprogram.New("tcp://echo")
	lm := runner.NewLocalMachine(context.Background(), program, false, zap.NewNop())
	states := make(chan remoting.MachineState, 4)
	lm.OnStateChanged(func(s remoting.MachineState) { states <- s })
	lm.NotifyInitComplete()

	require.Equal(t, remoting.Running, <-states)
	lm.Terminate()
	require.Equal(t, remoting.Cancelled, <-states)
}
