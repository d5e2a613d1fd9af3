package process

import (
	"bufio"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// Logger tags every line of a machine's stdout/stderr with its
// machineId and forwards it to the agent's log sink. The two pipes are
// read concurrently and both must report EOF before the logger is
// considered done, so a caller never reads into a buffer being freed
// out from under it.
type Logger struct {
	machineID string
	log       *zap.Logger

	stdout io.ReadCloser
	stderr io.ReadCloser

	wg sync.WaitGroup
}

func newLogger(machineID string, cmd *exec.Cmd, log *zap.Logger) (*Logger, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	return &Logger{
		machineID: machineID,
		log:       log.Named("machine-logger"),
		stdout:    stdout,
		stderr:    stderr,
	}, nil
}

// start begins the two scanning goroutines. Must be called after
// cmd.Start() so the pipes are actually connected.
func (l *Logger) start() {
	l.wg.Add(2)
	go l.scan(l.stdout, "stdout")
	go l.scan(l.stderr, "stderr")
}

func (l *Logger) scan(r io.ReadCloser, stream string) {
	defer l.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		l.log.Info(scanner.Text(),
			zap.String("machine_id", l.machineID),
			zap.String("stream", stream),
		)
	}
}

// wait blocks until both pipes have reported EOF. Safe to call
// concurrently with the scan goroutines; it only waits on them.
func (l *Logger) wait() {
	l.wg.Wait()
}
